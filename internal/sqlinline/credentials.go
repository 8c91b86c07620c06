package sqlinline

// QEnsureProviderCredentials creates the credential table when missing.
const QEnsureProviderCredentials = `--sql 3c1f9a4e-5b0d-4e7a-9f12-6d8b2a7c4e10
create table if not exists provider_credentials (
    id uuid primary key default gen_random_uuid(),
    provider text not null,
    role text not null default 'default',
    token text not null,
    position int not null default 0,
    created_at timestamptz not null default now(),
    unique (provider, role, token)
);
`

// QListProviderCredentials returns every credential ordered for rotation.
const QListProviderCredentials = `--sql 8a8e0d52-7f5d-4f21-8b7d-f7d4b821eed7
select provider, role, token
from provider_credentials
order by provider, role, position, created_at;
`

const QInsertProviderCredential = `--sql 6d4f5660-0f7c-4f73-a1f3-9ab6d5e6c7a3
insert into provider_credentials (provider, role, token, position)
values (
    $1::text,
    $2::text,
    $3::text,
    coalesce((select max(position) + 1 from provider_credentials where provider = $1::text and role = $2::text), 0)
)
on conflict (provider, role, token) do nothing;
`

const QDeleteProviderCredential = `--sql b47d2e19-8c3a-4f6e-a051-2e9d7c6b3f84
delete from provider_credentials
where provider = $1::text
  and role = $2::text
  and token = $3::text;
`
