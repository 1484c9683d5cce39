package sqlinline

const QInsertHistoryEntry = `--sql 6a1e8d40-2b9c-4f73-8a5e-1d4c7b0f9e32
insert into regeneration_history(id, section_id, target_field, previous_image_ref, new_image_ref, action_kind, prompt_text, created_at)
values ($1::uuid, $2::uuid, $3::text, nullif($4, '')::uuid, $5::uuid, $6::text, $7::text, now());
`

const QSelectSectionHistory = `--sql e9c2f5b8-7d4a-4e16-9b3c-5a8f0d2e6c41
select id, section_id, target_field, coalesce(previous_image_ref::text, ''), new_image_ref, action_kind, prompt_text, created_at
from regeneration_history
where section_id = $1::uuid
order by created_at desc;
`

const QSelectLatestHistoryEntry = `--sql 1f8b4d72-9e3a-4c50-b6d1-8a2c5e7f0b94
select id, section_id, target_field, coalesce(previous_image_ref::text, ''), new_image_ref, action_kind, prompt_text, created_at
from regeneration_history
where section_id = $1::uuid and target_field = $2::text
order by created_at desc
limit 1;
`
