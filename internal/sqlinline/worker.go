package sqlinline

// QClaimGeneration claims the oldest pending generation for this worker.
// SKIP LOCKED keeps concurrent workers from double-claiming a row.
const QClaimGeneration = `--sql 7c1f0a2e-9b4d-4f6a-8c3e-2d5b1e7a9f04
with next_generation as (
    select id
    from generations
    where status = 'pending'
    order by created_at asc
    for update skip locked
    limit 1
),
claimed as (
    update generations
    set status = 'processing', started_at = now()
    where id in (select id from next_generation)
    returning id, user_id, email, video_url, character_image_url, character_name, send_email
)
select * from claimed;
`

// QExpireStuck fails processing rows whose run exceeded the wall-clock
// budget, so a crashed worker can never leave a row processing forever.
const QExpireStuck = `--sql 3e8d2b61-5a07-4c5f-9d21-b64f8c0a17d2
update generations
set status = 'failed',
    error_message = 'generation timed out',
    error = $2::jsonb,
    completed_at = now()
where status = 'processing'
  and started_at is not null
  and started_at < now() - ($1::bigint * interval '1 second');
`

// QRequeueUnstarted returns uploading rows older than a day to a failed
// state; they were abandoned before their assets finished uploading.
const QRequeueUnstarted = `--sql a91c4f7d-2e60-4b3a-b8d5-0c7e6f21d938
update generations
set status = 'failed',
    error_message = 'upload never completed',
    error = $1::jsonb,
    completed_at = now()
where status = 'uploading'
  and created_at < now() - interval '1 day';
`
