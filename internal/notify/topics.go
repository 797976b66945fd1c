package notify

const TopicNotificationLifecycle = "notification.lifecycle"

// PartitionKey keeps every event for one recipient in order.
func PartitionKey(actorID string) []byte { return []byte(actorID) }
