package outbox

const completionRecordedSchema = `{
  "type": "object",
  "title": "CompletionRecorded",
  "properties": {
    "completion_id": {"type": "string"},
    "user_id": {"type": "string"},
    "exercise_id": {"type": "string"},
    "body_area": {"type": "string"},
    "completed_at": {"type": "string", "format": "date-time"},
    "duration_min": {"type": "integer"},
    "difficulty": {"type": "string"}
  },
  "required": ["completion_id", "user_id", "exercise_id", "body_area", "completed_at", "duration_min", "difficulty"],
  "additionalProperties": false
}`

const achievementAwardedSchema = `{
  "type": "object",
  "title": "AchievementAwarded",
  "properties": {
    "award_id": {"type": "string"},
    "user_id": {"type": "string"},
    "achievement_id": {"type": "string"},
    "awarded_at": {"type": "string", "format": "date-time"},
    "points": {"type": "integer"},
    "rarity": {"type": "string"}
  },
  "required": ["award_id", "user_id", "achievement_id", "awarded_at", "points", "rarity"],
  "additionalProperties": false
}`
