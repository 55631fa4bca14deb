package ingest

// Fixed topic vocabulary shared with the devices. Topic matching is exact
// and case-sensitive.
const (
	TopicTelemetry = "v1/telemetry"
	TopicStatus    = "v1/status"
	TopicCommand   = "v1/command"
	TopicResponse  = "v1/response"
	TopicHeartbeat = "v1/heartbeat"
	TopicError     = "v1/error"
	TopicSystem    = "v1/system"
)

// InboundTopics returns the topics the hub subscribes to. Command and
// response are outbound-only.
func InboundTopics() []string {
	return []string{
		TopicTelemetry,
		TopicStatus,
		TopicHeartbeat,
		TopicError,
		TopicSystem,
	}
}
