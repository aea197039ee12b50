package sqlinline

const QIncrementUsageCounter = `--sql 6fcd7ed0-1f16-43bb-a732-7375b99941e4
insert into provider_usage_counters(provider, scope, time_window, bucket, count, updated_at)
values ($1::text, $2::text, $3::text, $4::text, 1, now())
on conflict (provider, scope, time_window, bucket) do update set
    count = provider_usage_counters.count + 1,
    updated_at = now()
returning count;
`

const QSelectUsageCounter = `--sql 6f69eccf-28e6-46f4-8826-cf0cb3087492
select count
from provider_usage_counters
where provider = $1::text
  and scope = $2::text
  and time_window = $3::text
  and bucket = $4::text
limit 1;
`
