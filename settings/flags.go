package settings

// Server-level flags.
const (
	ServerConsiderAllMessagesPublic Flag = "consider_all_messages_public"
	ServerReadTheRulesConsent       Flag = "read_the_rules_consent_enabled"
	ServerAnonymizeMessages         Flag = "anonymize_messages"
)

// Channel-level flags.
const (
	ChannelIndexingEnabled              Flag = "indexing_enabled"
	ChannelAutoThreadEnabled            Flag = "auto_thread_enabled"
	ChannelMarkSolutionEnabled          Flag = "mark_solution_enabled"
	ChannelSendMarkSolutionInstructions Flag = "send_mark_solution_instructions_in_new_threads"
	ChannelForumGuidelinesConsent       Flag = "forum_guidelines_consent_enabled"
)

// Per-user, per-server flags.
const (
	UserCanPubliclyDisplayMessages Flag = "can_publicly_display_messages"
	UserMessageIndexingDisabled    Flag = "message_indexing_disabled"
)

// The three flag sets used by the data model. Bit values follow declaration
// order, so new flags must only ever be appended.
var (
	ServerFlags = NewFlagSet("server",
		ServerConsiderAllMessagesPublic,
		ServerReadTheRulesConsent,
		ServerAnonymizeMessages,
	)
	ChannelFlags = NewFlagSet("channel",
		ChannelIndexingEnabled,
		ChannelAutoThreadEnabled,
		ChannelMarkSolutionEnabled,
		ChannelSendMarkSolutionInstructions,
		ChannelForumGuidelinesConsent,
	)
	UserServerFlags = NewFlagSet("user_server",
		UserCanPubliclyDisplayMessages,
		UserMessageIndexingDisabled,
	)
)
