package redis

// Key layout shared with the dashboard. Every key is suffixed with the bot id.
const (
	prefixCommand   = "command:"
	prefixStatus    = "bot_status:"
	prefixStats     = "bot_stats:"
	prefixSummary   = "bot_summary:"
	prefixStartTime = "bot_start_time:"
)

// Keys holds the resolved key names for one bot.
type Keys struct {
	Command   string
	Status    string
	Stats     string
	Summary   string
	StartTime string
}

// KeysFor resolves the key names for botID.
func KeysFor(botID string) Keys {
	return Keys{
		Command:   prefixCommand + botID,
		Status:    prefixStatus + botID,
		Stats:     prefixStats + botID,
		Summary:   prefixSummary + botID,
		StartTime: prefixStartTime + botID,
	}
}
