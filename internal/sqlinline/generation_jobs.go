package sqlinline

const QEnqueueGenerationJob = `--sql 16a0c8f9-7fab-4edc-9a3d-5e8ea6ae693d
insert into generation_jobs(id, generation_id, attempts, created_at)
values (gen_random_uuid(), $1::uuid, 0, now())
on conflict (generation_id) do update set generation_id = excluded.generation_id
returning id::text, generation_id::text, locked_at, attempts, run_after, created_at;
`

// $3 is the lease cutoff: rows locked before it are claimable again.
const QClaimGenerationJobs = `--sql e821a21c-e0bf-4e84-9279-cc92c73aa130
with next_jobs as (
    select id
    from generation_jobs
    where (locked_at is null or locked_at < $3::timestamptz)
      and (run_after is null or run_after <= $2::timestamptz)
    order by created_at asc
    for update skip locked
    limit $1::int
)
update generation_jobs j
set locked_at = $2::timestamptz,
    attempts = j.attempts + 1
from next_jobs n
where j.id = n.id
returning j.id::text, j.generation_id::text, j.locked_at, j.attempts, j.run_after, j.created_at;
`

const QDeleteGenerationJob = `--sql e5329e4e-e0a0-48f2-be89-4f97314a2ddd
delete from generation_jobs
where id = $1::uuid;
`

const QReleaseGenerationJob = `--sql fc1a3bb9-7d93-4dd5-bf66-f404a4c10356
update generation_jobs
set locked_at = null,
    run_after = $2::timestamptz
where id = $1::uuid;
`
