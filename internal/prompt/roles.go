// Package prompt builds generation requests from role instructions,
// retrieved context, conversation history and the live user message under
// a token budget.
package prompt

import "strings"

// Caller roles recognized by the assistant. Unknown roles fall back to
// the general template.
const (
	RoleInstructor = "instructors"
	RoleStaff      = "staff"
	RoleAdmin      = "admins"
	RoleGeneral    = "general"
)

const baseInstructions = `You are Learning Navigator, an assistant for the Mental Health First Aid (MHFA) program by The National Council for Mental Wellbeing.

Your purpose is to help users with accurate information about MHFA courses, resources, and operational guidance.

Guidelines:
- Be helpful, professional, and empathetic
- Provide clear and concise answers
- If you don't know something, say so honestly
- For sensitive topics, recommend contacting support
- Always maintain confidentiality and privacy`

const groundingInstructions = `
- Prioritize information from the provided documents when answering
- Cite which document(s) you are referencing (e.g., "According to Document 1...")
- If documents conflict, acknowledge the discrepancy
- If documents are insufficient, say so and provide general guidance`

var roleInstructions = map[string]string{
	RoleInstructor: `
The current user is an MHFA Instructor. Focus on:
- Course scheduling and logistics
- Invoicing and payment questions
- Teaching resources and materials
- Certification and recertification information
- Technical support for the learning platform`,

	RoleStaff: `
The current user is Internal Staff. Focus on:
- Operational processes and procedures
- System troubleshooting and support
- Administrative guidance
- Organizational policies
- Interdepartmental coordination`,

	RoleAdmin: `
The current user is an Administrator. Focus on:
- System analytics and reporting
- User management and permissions
- Strategic planning support
- Platform configuration
- High-level operational oversight`,

	RoleGeneral: `
The current user is a general user. Provide:
- General MHFA information
- Course availability
- Basic support
- Guidance on getting started`,
}

// InstructionsFor returns the system instructions for a caller role.
// grounded adds citation guidance; it must be false for ungroundable
// queries so the model is never asked to cite documents it was not given.
func InstructionsFor(role string, grounded bool, language string) string {
	var b strings.Builder
	b.WriteString(baseInstructions)
	if grounded {
		b.WriteString(groundingInstructions)
	}

	guidance, ok := roleInstructions[role]
	if !ok {
		guidance = roleInstructions[RoleGeneral]
	}
	b.WriteString("\n")
	b.WriteString(guidance)

	if language != "" && language != "en" {
		b.WriteString("\n\nRespond in the language tagged \"")
		b.WriteString(language)
		b.WriteString("\".")
	}
	return b.String()
}

// FallbackMessage returns the degraded-service answer for a role, used
// when generation fails after retries.
func FallbackMessage(role string) string {
	salutation := map[string]string{
		RoleInstructor: "Hello Instructor! ",
		RoleStaff:      "Hello Staff Member! ",
		RoleAdmin:      "Hello Admin! ",
	}[role]
	if salutation == "" {
		salutation = "Hello there! "
	}
	return salutation + "I received your message but I'm experiencing technical difficulties connecting to my answering service. Please try again in a moment. If the issue persists, contact support."
}

// NoInformationMessage is the answer for ungroundable queries when the
// knowledge base has nothing relevant to offer.
const NoInformationMessage = "I don't have information on that in my knowledge base. Could you rephrase your question, or contact support for help with this topic?"
