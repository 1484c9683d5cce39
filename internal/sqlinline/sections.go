package sqlinline

const QSelectPageForUser = `--sql 3f1c9a74-2d5b-4e8f-9c21-6b7a8d0e4f15
select id, user_id, title
from pages
where id = $1::uuid and user_id = $2::uuid
limit 1;
`

const QSelectPageSections = `--sql b82d4c6e-91a3-47f0-8e5d-2c4f6a8b0d13
select
  s.id,
  s.page_id,
  s.position,
  coalesce(s.image_ref::text, ''),
  coalesce(s.mobile_image_ref::text, ''),
  coalesce(s.original_image_ref::text, ''),
  s.boundary_offset_top,
  s.boundary_offset_bottom,
  s.updated_at
from sections s
where s.page_id = $1::uuid
order by s.position asc;
`

const QSelectSectionForUser = `--sql 7e4a2b90-6c1d-4f38-a5e7-9d0b3c8f2a61
select
  s.id,
  s.page_id,
  s.position,
  coalesce(s.image_ref::text, ''),
  coalesce(s.mobile_image_ref::text, ''),
  coalesce(s.original_image_ref::text, ''),
  s.boundary_offset_top,
  s.boundary_offset_bottom,
  s.updated_at
from sections s
join pages p on p.id = s.page_id
where s.id = $1::uuid and p.user_id = $2::uuid
limit 1;
`

const QUpdateSectionBoundary = `--sql c5d8e1f2-3a4b-4c6d-8e9f-0a1b2c3d4e5f
update sections
set boundary_offset_top = $2::int,
    boundary_offset_bottom = $3::int,
    updated_at = now()
where id = $1::uuid;
`

const QLockSectionRefs = `--sql 8d2f6b40-5a9c-4e17-b3d8-0f4a7c2e9b56
select coalesce(image_ref::text, ''), coalesce(mobile_image_ref::text, '')
from sections
where id = $1::uuid
for update;
`

const QUpdateSectionImageRef = `--sql a4c8e2d6-7b1f-4905-8e3a-6d0b9f5c1a72
update sections
set image_ref = nullif($2, '')::uuid,
    updated_at = now()
where id = $1::uuid;
`

const QUpdateSectionMobileImageRef = `--sql f0b4d8a2-3e6c-4751-9a8d-2c5e0b7f4d91
update sections
set mobile_image_ref = nullif($2, '')::uuid,
    updated_at = now()
where id = $1::uuid;
`
