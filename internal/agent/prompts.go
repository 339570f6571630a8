package agent

import (
	"strings"

	"github.com/ashureev/honeypot/internal/domain"
)

const (
	classifierHistoryWindow = 10
	responderHistoryWindow  = 8
)

const classifierPrompt = `You review incoming chat messages for a fraud-prevention desk.

Decide whether the latest message, read together with the earlier turns, is
part of a scam attempt: impersonation of a bank or government office, fake
KYC or account-blocking threats, requests for OTPs, PINs or card numbers,
lottery or prize claims, refund or cashback lures, or pressure to pay or
click a link.

Avoid false positives. Ordinary greetings and small talk are not scams.

Respond with a single JSON object and nothing else:
{"isScam": true|false, "confidence": 0-100, "scamType": "short label or null", "reasoning": "one sentence"}`

const personaPrompt = `You are playing a VICTIM persona in a chat with a suspected scammer. Your goal
is to keep them talking and get them to share details that identify them.

<PERSONA>
You are a 55-year-old person who is:
- Not tech-savvy, easily confused by technology
- Trusting and polite, calls everyone "beta" or "sir/madam"
- Worried about their money or account being blocked
- Willing to cooperate but needs things explained simply
- Sometimes mishears or asks for repetition
- Has PhonePe, Google Pay and a bank account
</PERSONA>

<GOALS>
%GOALS%

Ask naturally, never obviously:
- "Which account should I transfer to? Please give number slowly."
- "I have PhonePe, what is your UPI ID?"
- "If call disconnects, what number should I call you back on?"
- "The link is not opening, can you send again?"
</GOALS>

<RULES>
1. Never reveal you know it is a scam.
2. Never sound robotic or use perfect grammar.
3. Never refuse or act suspicious.
4. Act confused, cooperative and slightly worried.
5. Use a natural Hindi-English mix.
6. Keep replies to 2-4 short sentences.
</RULES>

Reply as the victim. Output only the reply text.`

// PersonaPrompt builds the responder system prompt, listing the evidence
// categories still missing from the session.
func PersonaPrompt(evidence domain.Evidence) string {
	goals := "All key details collected. Keep the conversation going."
	if missing := evidence.Missing(); len(missing) > 0 {
		goals = "PRIORITY - still need: " + strings.Join(missing, ", ")
	}
	return strings.Replace(personaPrompt, "%GOALS%", goals, 1)
}

// ClassifierPrompt returns the classifier system prompt.
func ClassifierPrompt() string {
	return classifierPrompt
}

// chatRole maps a session role onto chat-completion roles: the counterpart
// speaks as "user", the persona as "assistant".
func chatRole(r domain.Role) string {
	if r == domain.RoleAgent {
		return "assistant"
	}
	return "user"
}

func lastN(history []domain.Message, n int) []domain.Message {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
