package sqlinline

const QConsumeQuota = `--sql e40f651c-a8b3-44c7-a911-bb8a0ed5f6ef
with input as (
  select $1::uuid as user_id, $2::int as item_count
)
update users u
set properties = jsonb_set(
  u.properties,
  '{quota_used_today}',
  (coalesce((u.properties->>'quota_used_today')::int, 0) + (select item_count from input))::text::jsonb,
  true
),
updated_at = now()
where u.id = (select user_id from input)
  and coalesce((u.properties->>'quota_used_today')::int, 0) + (select item_count from input)
      <= coalesce((u.properties->>'daily_quota')::int, 50)
returning coalesce((u.properties->>'daily_quota')::int, 50) - (u.properties->>'quota_used_today')::int;
`

const QInsertGenerationAttempt = `--sql 5b3e7a92-1c8d-4f60-ae24-9d6b0f3c8e17
insert into generation_attempts(id, user_id, operation_kind, model, status, cost_cents, started_at, finished_at)
values ($1::uuid, $2::uuid, $3::text, $4::text, $5::text, $6::int, $7::timestamptz, now());
`
