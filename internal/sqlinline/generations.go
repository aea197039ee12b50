package sqlinline

const QInsertGeneration = `--sql 0a717dde-58f2-4dda-be5e-5237efa71ccc
insert into generations(
  id,
  owner_id,
  session_id,
  model_id,
  prompt,
  negative_prompt,
  status,
  parameters,
  created_at,
  updated_at
) values (
  $1::uuid,
  $2::uuid,
  nullif($3::text, '')::uuid,
  $4::text,
  $5::text,
  $6::text,
  'processing',
  coalesce($7::jsonb, '{}'::jsonb),
  now(),
  now()
) returning created_at, updated_at;
`

const QSelectGenerationByID = `--sql 95ace75a-5869-4eeb-bd14-47aef5e62eee
select
  id::text,
  owner_id::text,
  coalesce(session_id::text, ''),
  model_id,
  prompt,
  negative_prompt,
  status,
  cost::float8,
  parameters,
  created_at,
  updated_at
from generations
where id = $1::uuid
limit 1;
`

const QSelectGenerationByPrediction = `--sql b6a67a7b-0154-462c-9a2f-9477b38dfcc0
select
  id::text,
  owner_id::text,
  coalesce(session_id::text, ''),
  model_id,
  prompt,
  negative_prompt,
  status,
  cost::float8,
  parameters,
  created_at,
  updated_at
from generations
where parameters->'provider'->>'prediction_id' = $1::text
order by created_at desc
limit 1;
`

// Conditional write: the lock is taken only when absent or older than $3.
const QAcquireGenerationLock = `--sql a07a43e6-5c07-4689-aecd-1be8a0645525
update generations
set parameters = jsonb_set(parameters, '{lock}', $2::jsonb, true),
    updated_at = now()
where id = $1::uuid
  and status = 'processing'
  and (
    parameters->'lock'->>'processing_started_at' is null
    or (parameters->'lock'->>'processing_started_at')::timestamptz < $3::timestamptz
  );
`

const QAppendGenerationLog = `--sql 754c396a-e60d-4d07-bf25-0b8ca15bca79
update generations g
set parameters = jsonb_set(g.parameters, '{debug_log}', (
      select coalesce(jsonb_agg(t.entry order by t.ord), '[]'::jsonb)
      from (
        select e.entry, e.ord
        from jsonb_array_elements(coalesce(g.parameters->'debug_log', '[]'::jsonb) || $2::jsonb)
          with ordinality as e(entry, ord)
        order by e.ord desc
        limit $3::int
      ) t
    ), true),
    updated_at = now()
where g.id = $1::uuid;
`

const QSetGenerationProvider = `--sql 73dbc3b2-3bbd-450e-a3b7-64b370eb5d6a
update generations
set parameters = jsonb_set(parameters, '{provider}', $2::jsonb, true),
    updated_at = now()
where id = $1::uuid
  and status = 'processing';
`

const QCompleteGeneration = `--sql 13e1f582-b2f4-4fa5-990d-3c5af42dd6db
update generations
set status = 'completed',
    cost = $2::numeric,
    updated_at = now()
where id = $1::uuid
  and status = 'processing'
returning owner_id::text;
`

const QFailGeneration = `--sql e82519f9-f7f0-4217-a50d-23c4d26220f4
update generations
set status = 'failed',
    parameters = jsonb_set(parameters, '{error}', $2::jsonb, true),
    updated_at = now()
where id = $1::uuid
  and status = 'processing';
`

const QCancelGeneration = `--sql 4238609d-4054-4dad-9baf-64555a6ad40e
update generations
set status = 'cancelled',
    updated_at = now()
where id = $1::uuid
  and status = 'processing';
`

// Processing rows nobody is working on: no live lock, no queue entry. Webhook
// rows are included so a lost delivery is reconciled against the provider.
const QListStaleGenerations = `--sql b3550b42-2575-4539-99b2-688ee705de9a
select g.id::text
from generations g
where g.status = 'processing'
  and g.updated_at < $1::timestamptz
  and (
    g.parameters->'lock'->>'processing_started_at' is null
    or (g.parameters->'lock'->>'processing_started_at')::timestamptz < $1::timestamptz
  )
  and not exists (select 1 from generation_jobs j where j.generation_id = g.id)
order by g.updated_at asc
limit $2::int;
`
