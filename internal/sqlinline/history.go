package sqlinline

const QEnsureJobHistory = `--sql 3b8f0f5e-6a2d-4c1e-9d47-2f6e8a1c5b90
create table if not exists job_history (
  profile text primary key,
  jobs jsonb not null default '[]'::jsonb,
  updated_at timestamptz not null default now()
);
`

const QSelectJobHistory = `--sql 8d2c4a71-1f3e-4b6a-a5d9-0c7e2b9f4e13
select jobs
from job_history
where profile = $1::text
limit 1;
`

const QUpsertJobHistory = `--sql c41e9b27-7a58-4d0f-8e36-5b1f2a9d6c84
insert into job_history(profile, jobs, updated_at)
values ($1::text, $2::jsonb, now())
on conflict (profile) do update
set jobs = excluded.jobs,
    updated_at = now();
`
