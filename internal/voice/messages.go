package voice

// User-facing texts. Each degraded turn carries exactly one of these.
const (
	MsgRateLimited = "You're sending voice messages a little too quickly. " +
		"Please wait a moment and try again."

	MsgSpeechToTextFailed = "I couldn't process your voice message. " +
		"Let's continue by text: please type your question instead."

	MsgNotConfigured = "Voice processing is not configured right now. " +
		"Let's continue by text: please type your question instead."

	MsgEmptyTranscription = "I didn't catch anything in that recording. " +
		"Could you try recording your message again?"

	MsgContentFlagged = "I can't respond to that message because it may violate our " +
		"content policy. Please rephrase your question."

	// MsgTextProcessingFailed is formatted with the recognized transcript.
	MsgTextProcessingFailed = "I heard you say: \"%s\". I'm having trouble putting " +
		"together a response right now. Let's continue by text."

	// MsgAudioFailedNote is appended to a generated reply whose audio could
	// not be synthesized.
	MsgAudioFailedNote = "\n\n(Audio playback is unavailable right now, so let's continue by text.)"

	MsgGeneralError = "Something went wrong while processing your voice message. " +
		"Let's continue by text."

	// MsgApology is the generator's own fallback content.
	MsgApology = "I apologize, but I'm having trouble processing your request right now. " +
		"Please try again in a moment."
)

// apologyTokenCount is the nominal usage reported with [MsgApology].
const apologyTokenCount = 10

// SpeechInstruction is appended to the system prompt of every voice turn.
const SpeechInstruction = "\n\nThis conversation is spoken aloud. Keep your reply " +
	"conversational and concise, a few short sentences at most. Do not use " +
	"lists, headings, markdown or links."

// GenericPrompt is used for modes without an entry in [ModePrompts].
const GenericPrompt = "You are a helpful HR assistant. Answer workplace, policy " +
	"and people questions accurately and supportively. When a question needs " +
	"a human decision or legal advice, say so and suggest contacting HR."

// ModePrompts maps assistant modes to their system prompts.
var ModePrompts = map[string]string{
	"general": GenericPrompt,
	"career": "You are an HR career development coach. Help employees plan their " +
		"growth, prepare for conversations about promotion, and identify skills " +
		"and learning opportunities that fit their goals.",
	"compliance": "You are an HR compliance assistant. Explain workplace policies, " +
		"labor regulations and reporting procedures in plain language. Never " +
		"give legal advice; point to the responsible team for binding answers.",
	"benefits": "You are an HR benefits specialist. Explain health plans, leave, " +
		"retirement and other employee benefits clearly, and tell the employee " +
		"where to find the enrollment details for their situation.",
	"onboarding": "You are an HR onboarding guide. Welcome new employees, explain " +
		"first-week tasks, tools and who to contact, and keep answers friendly.",
	"performance": "You are an HR performance coach. Help employees and managers " +
		"prepare for reviews, give and receive feedback constructively, and set " +
		"measurable goals.",
}

// ResolvePrompt returns override when set, else the prompt for mode, else
// [GenericPrompt].
func ResolvePrompt(mode, override string) string {
	if override != "" {
		return override
	}
	if p, ok := ModePrompts[mode]; ok {
		return p
	}
	return GenericPrompt
}
