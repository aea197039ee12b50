package sqlinline

const QInsertGenerationOutputs = `--sql 8f551f2a-07be-4daa-ae07-d40a386e801e
insert into generation_outputs(
  id,
  generation_id,
  owner_id,
  idx,
  url,
  kind,
  mime_type,
  width,
  height,
  duration_seconds,
  storage_path,
  source_url,
  fallback,
  created_at
)
select
  x.id,
  $1::uuid,
  x.owner_id,
  x.idx,
  x.url,
  x.kind,
  x.mime_type,
  x.width,
  x.height,
  x.duration_seconds,
  x.storage_path,
  x.source_url,
  x.fallback,
  now()
from jsonb_to_recordset($2::jsonb) as x(
  id uuid,
  owner_id uuid,
  idx int,
  url text,
  kind text,
  mime_type text,
  width int,
  height int,
  duration_seconds float8,
  storage_path text,
  source_url text,
  fallback boolean
)
on conflict (generation_id, idx) do nothing;
`

const QListGenerationOutputs = `--sql 6444ab15-f002-4a7a-9661-552905fd9d04
select
  id::text,
  generation_id::text,
  owner_id::text,
  idx,
  url,
  kind,
  mime_type,
  width,
  height,
  duration_seconds,
  storage_path,
  source_url,
  fallback,
  created_at
from generation_outputs
where generation_id = $1::uuid
order by idx asc;
`

const QInsertOutputAnalysisJobs = `--sql f8644f2a-4691-4908-bae3-b188097f1bcd
insert into output_analysis_jobs(id, output_id, generation_id, status, created_at)
select gen_random_uuid(), x.output_id, x.generation_id, 'pending', now()
from jsonb_to_recordset($1::jsonb) as x(output_id uuid, generation_id uuid)
on conflict (output_id) do nothing;
`
