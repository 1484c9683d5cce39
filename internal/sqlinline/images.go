package sqlinline

const QInsertImageAsset = `--sql 2caa5b21-4c2b-4b72-8a36-7d3d0f9b77a1
insert into image_assets(id, uri, mime, width, height, source_kind, source_asset_id, created_at)
values ($1::uuid, $2::text, $3::text, $4::int, $5::int, $6::text, nullif($7, '')::uuid, now());
`

const QSelectImageAsset = `--sql 9b6f3e82-5d1c-4a97-b3f0-7c2e8a4d6f19
select id, uri, mime, width, height, source_kind, coalesce(source_asset_id::text, ''), created_at
from image_assets
where id = $1::uuid
limit 1;
`

const QSelectPageAssetURIs = `--sql 0c3e7f91-4a6d-4b28-9e5c-1f8b2d6a0c74
select a.id, a.uri
from image_assets a
where a.id in (
  select s.image_ref from sections s where s.page_id = $1::uuid and s.image_ref is not null
  union
  select s.mobile_image_ref from sections s where s.page_id = $1::uuid and s.mobile_image_ref is not null
);
`

const QSelectSectionImages = `--sql 4d7a9c31-8e2f-4b56-a1d8-3f6c0b9e5a27
select s.id, a.id, a.uri, a.mime, a.width, a.height
from sections s
join image_assets a on a.id = s.image_ref
where s.page_id = $1::uuid
order by s.position asc;
`
