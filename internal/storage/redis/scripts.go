package redis

const (
	// appendSessionScript stores a session and indexes it under its patient
	appendSessionScript = `
local session_key = KEYS[1]     -- adherence:session:{sessionID}
local patient_key = KEYS[2]     -- adherence:sessions:patient:{patientID}

local session_id = ARGV[1]
local score = tonumber(ARGV[10])

if redis.call('EXISTS', session_key) == 1 then
  return redis.error_reply('session already exists')
end

redis.call('HSET', session_key,
  'id', session_id,
  'patient_id', ARGV[2],
  'device_id', ARGV[3],
  'start_time', ARGV[4],
  'end_time', ARGV[5],
  'duration_minutes', ARGV[6],
  'time_of_day', ARGV[7],
  'compliance_score', ARGV[8],
  'created_at', ARGV[9]
)

redis.call('ZADD', patient_key, score, session_id)

return 'OK'
`

	// registerDeviceScript creates or replaces a device and indexes it
	registerDeviceScript = `
local device_key = KEYS[1]      -- adherence:device:{patientID}:{deviceID}
local patient_key = KEYS[2]     -- adherence:devices:patient:{patientID}

redis.call('HSET', device_key,
  'id', ARGV[1],
  'patient_id', ARGV[2],
  'device_id', ARGV[3],
  'device_name', ARGV[4],
  'is_connected', ARGV[5],
  'last_connected', ARGV[6],
  'created_at', ARGV[7]
)

redis.call('SADD', patient_key, ARGV[3])

return 'OK'
`

	// setConnectedScript upserts a device as connected, keeping existing fields
	setConnectedScript = `
local device_key = KEYS[1]      -- adherence:device:{patientID}:{deviceID}
local patient_key = KEYS[2]     -- adherence:devices:patient:{patientID}

local new_id = ARGV[1]
local patient_id = ARGV[2]
local device_id = ARGV[3]
local connected_at = ARGV[4]

if redis.call('EXISTS', device_key) == 0 then
  redis.call('HSET', device_key,
    'id', new_id,
    'patient_id', patient_id,
    'device_id', device_id,
    'device_name', '',
    'created_at', connected_at
  )
end

redis.call('HSET', device_key,
  'is_connected', '1',
  'last_connected', connected_at
)

redis.call('SADD', patient_key, device_id)

return 'OK'
`

	// resolveIdentityScript returns the id for a lookup key, creating the
	// identity when the key is absent
	resolveIdentityScript = `
local lookup_key = KEYS[1]      -- adherence:identity:lookup:{role}:{roleIdentifier}:{name}
local role_key = KEYS[2]        -- adherence:identities:role:{role}
local identity_key = KEYS[3]    -- adherence:identity:{newID}

local new_id = ARGV[1]
local existing = redis.call('GET', lookup_key)
if existing then
  return existing
end

redis.call('HSET', identity_key,
  'id', new_id,
  'name', ARGV[2],
  'role', ARGV[3],
  'role_identifier', ARGV[4],
  'created_at', ARGV[5]
)

redis.call('SET', lookup_key, new_id)
redis.call('SADD', role_key, new_id)

return new_id
`
)
