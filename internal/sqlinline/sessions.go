package sqlinline

const QSelectSessionAccess = `--sql 4217dc43-ff9a-446c-bc08-4b1714282c41
select exists (
  select 1
  from sessions s
  join projects p on p.id = s.project_id
  left join project_members m on m.project_id = p.id and m.user_id = $1::uuid
  where s.id = $2::uuid
    and (p.owner_id = $1::uuid or m.user_id is not null)
);
`
