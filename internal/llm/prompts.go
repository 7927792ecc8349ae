package llm

import (
	"context"
	"fmt"

	"eino_counsel/pkg"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

const systemPrompt = `You are a compassionate, non-judgmental relationship counseling assistant.
Your goal is to help users explore their feelings, improve communication, and gain perspective on their relationships.

CORE PRINCIPLES:
1. Reflect, Don't Prescribe: Mirror back what you hear. Help the user clarify their own thoughts. Do not tell them what they "should" do.
2. Epistemic Humility: Always use tentative language ("It sounds like...", "I wonder if..."). Never claim to know the absolute truth about their partner or situation.
3. Safety First: You are an AI, not a human therapist. You cannot diagnose mental health conditions, treat trauma, or handle crisis situations.
4. Privacy: Do not ask for full names, addresses, or specific financial details.

LIMITATIONS & BOUNDARIES:
- No Diagnosis: Never use medical or clinical terms to describe the user or their partner.
- No Directives: Avoid "You should", "You must", "Leave him/her". Instead ask: "What do you think would happen if...?" or "How does that make you feel?"
- No Prognosis: Do not predict the future ("It will get better", "He will never change").
- No Crisis Support: If suicide, self-harm, or abuse is mentioned, stop and provide emergency resources immediately.

TONE:
Warm, empathetic, patient, and professional. No emojis, no slang. Maintain a supportive distance.`

const classificationTemplate = `Analyze the user's latest message for safety risks, crisis indicators, and prohibited topics.

RISK LEVELS:
- CRISIS: Imminent harm to self or others, domestic violence in progress, child abuse, sexual assault.
- HIGH_RISK: Severe emotional distress, panic attacks, description of past abuse, self-harm ideation without immediate intent, signs of severe mental illness.
- MEDIUM_RISK: Intense conflict, sadness, requests for strong advice or diagnosis, hostile rhetoric about a gender, venting about specific third parties.
- LOW_RISK: General relationship questions, dating advice, communication issues, healthy venting.

OUTPUT FORMAT (JSON ONLY):
{{
    "risk_level": "CRISIS" | "HIGH_RISK" | "MEDIUM_RISK" | "LOW_RISK",
    "confidence_score": 0.0 to 1.0,
    "topic_categorization": "string",
    "crisis_indicators": ["list", "of", "indicators"],
    "recommended_action": "brief description"
}}

USER MESSAGE:
{user_message}`

var tierTemplates = map[pkg.RiskTier]string{
	pkg.Crisis: `The user is in a CRISIS situation.
Your Goal: VALIDATE their pain briefly, REFUSE to counsel on this specific issue to avoid harm, and REDIRECT to professional resources.

RULES:
- Do NOT ask follow-up questions.
- Do NOT attempt to "talk them down" yourself.
- Do NOT provide relationship advice.
- Use a serious, compassionate, but firm tone.
- Provide the standard resource block: "If you are in immediate danger or need urgent help, please contact: 988 (Suicide & Crisis Lifeline) or text HOME to 741741."

User Input: {user_message}`,

	pkg.HighRisk: `The user is in significant distress (HIGH RISK).
Your Goal: Validate their emotions deeply, but GENTLY suggest that this issue might benefit from professional support.

RULES:
- Focus on immediate emotional stabilization (grounding).
- Do NOT analyze the relationship dynamics deeply right now.
- Avoid any language that could be interpreted as a diagnosis.
- Remind them you are an AI support tool, not a therapist.
- End with a soft bridge to professional help: "Given how heavy this feels, have you considered sharing this with a therapist?"

Context: {context_summary}
User Input: {user_message}`,

	pkg.MediumRisk: `The user is dealing with complex or intense issues (MEDIUM RISK).
Your Goal: Help the user explore the situation with CAUTION.

RULES:
- Use tentative language ("It seems like...", "Could it be that...").
- Check for understanding.
- Avoid taking sides in arguments.
- If they ask for specific advice ("Should I break up?"), deflect: "That's a big decision. What are your main fears about staying vs. leaving?"
- Monitor for escalation.

Context: {context_summary}
User Input: {user_message}`,

	pkg.LowRisk: `The user is discussing general relationship matters (LOW RISK).
Your Goal: Provide supportive, reflective listening and coaching on communication.

RULES:
- Ask open-ended questions to deepen their insight.
- Reflect back their feelings to show active listening.
- Offer general communication frameworks (e.g., "I" statements) if appropriate.
- Keep the conversation constructive and forward-looking.

Context: {context_summary}
User Input: {user_message}`,
}

const summaryInstruction = `Analyze this conversation. Extract specific updates for:
1. relationship_context: relationship status and context, as a JSON object
2. recurring_themes: recurring themes, as a JSON object
3. emotional_patterns: emotional patterns, as a JSON object
4. progress_note: a brief progress note of at most 200 characters, as a string

SAFETY RULES:
- REMOVE all PII (names, dates, locations).
- REMOVE specific details of abuse or crisis (summarize as "reported safety concern").
- REMOVE medical details.

Output a single JSON object with exactly these keys:
{{"relationship_context": {{}}, "recurring_themes": {{}}, "emotional_patterns": {{}}, "progress_note": ""}}`

const noContext = "No prior context."

var (
	classificationPrompt = prompt.FromMessages(schema.FString, schema.SystemMessage(classificationTemplate))
	summaryPrompt        = prompt.FromMessages(schema.FString,
		schema.SystemMessage(summaryInstruction),
		schema.UserMessage("{transcript}"),
	)
	tierPrompts = buildTierPrompts()
)

func buildTierPrompts() map[pkg.RiskTier]prompt.ChatTemplate {
	out := make(map[pkg.RiskTier]prompt.ChatTemplate, len(tierTemplates))
	for tier, tpl := range tierTemplates {
		out[tier] = prompt.FromMessages(schema.FString,
			schema.SystemMessage(systemPrompt),
			schema.UserMessage(tpl),
		)
	}
	return out
}

// ClassificationInstruction renders the safety-classification instruction
// for userMessage
func ClassificationInstruction(ctx context.Context, userMessage string) (string, error) {
	msgs, err := classificationPrompt.Format(ctx, map[string]any{"user_message": userMessage})
	if err != nil {
		return "", fmt.Errorf("error formatting classification prompt: %w", err)
	}
	return msgs[0].Content, nil
}

// ResponseMessages renders the system prompt and the tier instruction for a
// generation call. CRISIS instructions never include memory context.
func ResponseMessages(ctx context.Context, tier pkg.RiskTier, userMessage, contextSummary string) ([]*schema.Message, error) {
	tpl, ok := tierPrompts[tier]
	if !ok {
		return nil, fmt.Errorf("no response prompt for tier %s", tier)
	}
	if contextSummary == "" {
		contextSummary = noContext
	}
	msgs, err := tpl.Format(ctx, map[string]any{
		"user_message":    userMessage,
		"context_summary": contextSummary,
	})
	if err != nil {
		return nil, fmt.Errorf("error formatting %s prompt: %w", tier, err)
	}
	return msgs, nil
}

// SummaryMessages renders the memory condensation request for a transcript
func SummaryMessages(ctx context.Context, transcript string) ([]*schema.Message, error) {
	msgs, err := summaryPrompt.Format(ctx, map[string]any{"transcript": transcript})
	if err != nil {
		return nil, fmt.Errorf("error formatting summary prompt: %w", err)
	}
	return msgs, nil
}
