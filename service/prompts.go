package service

import (
	"fmt"
	"strings"

	"satlegal-backend/models"
)

const analystSystemPrompt = "You are a legal analysis assistant specializing in Australian law and State Administrative Tribunal (SAT) decisions."

const noCasesFound = "No sufficiently relevant cases were found. Rely on general legal principles and say so where it matters."

// reasoningState is a state of the argument-building state machine
type reasoningState int

const (
	stateAnalyze reasoningState = iota
	stateIdentifyArguments
	stateFormulateFinal
	stateSingleCall
	stateDone
)

type stepPrompt struct {
	key          string
	name         string
	instructions string
	next         reasoningState
}

var reasoningSteps = map[reasoningState]stepPrompt{
	stateAnalyze: {
		key:  "analyze",
		name: "Analyze Case & Compare",
		instructions: "Analyze the provided CASE CONTENT in light of the SIMILAR CASES. Identify the key legal issues and the relevant legal principles and rules, " +
			"including primary legislation and principles from precedents. Generate 3-4 key insights specific to applying these principles to the case facts, " +
			"noting similarities and differences with precedents. For each insight, assess its strength (Strong, Moderate, Weak). " +
			"Use the exact format: '[Insight text]. Strength: [StrengthValue]'.",
		next: stateIdentifyArguments,
	},
	stateIdentifyArguments: {
		key:  "identify_arguments",
		name: "Identify & Evaluate Arguments",
		instructions: "Based on the issues and insights from the previous step, identify potential legal arguments. For each argument: " +
			"(1) state the relevant legal RULE, citing the specific legislation section and key precedent principle; " +
			"(2) APPLY the rule by comparing the facts of the case content to the facts and outcomes of the cited precedents; " +
			"(3) evaluate the argument's STRENGTH (Strong/Moderate/Weak) considering factual alignment and potential counterarguments.",
		next: stateFormulateFinal,
	},
	stateFormulateFinal: {
		key:  "formulate_final",
		name: "Formulate Final Arguments",
		instructions: "Review the analysis. First, reiterate the Key Insights and their strengths under '## Key Insights'. " +
			"Then formulate the final arguments under '## Key Arguments' using an IRAC structure for each: " +
			"(1) the ISSUE; (2) the applicable RULE with legislation and precedent; (3) the APPLICATION comparing the client's facts to the precedents; " +
			"(4) the CONCLUSION and its STRENGTH. Add '## Counter-Arguments' with a rebuttal for each. " +
			"Finish with '## Related Cases', one '### [Case Title](case_url)' heading per case you relied on, using the exact URLs from SIMILAR CASES.",
		next: stateDone,
	},
	stateSingleCall: {
		key:  "single_call",
		name: "Single-Call Reasoning",
		next: stateDone,
	},
}

// argumentInput is what every reasoning prompt is built from
type argumentInput struct {
	Content string
	Topic   string
	Context models.Context
}

func (in argumentInput) contextText() string {
	if in.Context.Empty() {
		return noCasesFound
	}
	return in.Context.Text
}

func (in argumentInput) topic() string {
	if strings.TrimSpace(in.Topic) == "" {
		return "Not specified"
	}
	return in.Topic
}

// previousSteps renders recorded outputs verbatim, oldest first
func previousSteps(outputs []models.ReasoningStepOutput) string {
	if len(outputs) == 0 {
		return "None"
	}
	var sb strings.Builder
	for i, o := range outputs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "STEP %d: %s\n%s", o.Index, o.Name, o.Text)
	}
	return sb.String()
}

func buildStepPrompt(in argumentInput, def stepPrompt, outputs []models.ReasoningStepOutput) string {
	return fmt.Sprintf(`CASE CONTENT: %s
CASE TOPIC: %s
SIMILAR CASES AND RELEVANT CHUNKS:
%s
STEP: %s
PREVIOUS REASONING:
%s

Based on the case content, similar cases, and any previous reasoning steps, carefully perform the following step:

%s

Consider these key elements in your analysis:
1. Australian legislation and SAT precedents that are relevant to this case
2. The specific facts and circumstances described in the case content
3. Legal principles established in the similar cases provided
4. The strength of arguments based on precedential value and factual alignment

FORMAT YOUR RESPONSE:
- Use precise, professional legal language
- Cite specific cases with proper citation format
- Reference relevant sections of Australian legislation
- Avoid repetition and unnecessary preambles`,
		in.Content,
		in.topic(),
		in.contextText(),
		def.name,
		previousSteps(outputs),
		def.instructions,
	)
}

func buildSingleCallPrompt(in argumentInput) string {
	return fmt.Sprintf(`# Legal Argument Generation Task

## Input
Case Content: %s
Topic: %s

## Context (Similar Cases)
%s

## Instructions
Follow this 3-step reasoning process carefully before writing your answer:

STEP 1: ANALYZE CASE & COMPARE
Identify the key legal issues and relevant legal principles. Generate 3-4 key insights specific to applying these principles to the case facts, noting similarities and differences with precedents, each with a strength (Strong, Moderate, Weak).

STEP 2: IDENTIFY & EVALUATE ARGUMENTS
For each potential argument: (1) state the RULE with legislation and precedent; (2) APPLY it by comparing the case facts to the cited precedents; (3) evaluate its STRENGTH.

STEP 3: FORMULATE FINAL ARGUMENTS
Use an IRAC structure: ISSUE, RULE, APPLICATION, CONCLUSION with STRENGTH.

## Output Format
Begin with a heading "LEGAL ANALYSIS: %s".
Under "## Key Insights", list each insight as "1. [Insight title]: [explanation]. Strength: [Strong/Moderate/Weak]".
Under "## Key Arguments", give each argument a title, Legal Reasoning, Supporting Cases and Strength.
Under "## Counter-Arguments", give each counter-argument with a rebuttal.
Finish with "## Related Cases", one "### [Case Title](case_url)" heading per case you relied on, using the exact URLs from the context.`,
		in.Content,
		in.topic(),
		in.contextText(),
		strings.ToUpper(in.topic()),
	)
}

func disclaimer(provider, model string) string {
	return fmt.Sprintf("This analysis was generated by %s (%s) for informational purposes only and does not constitute legal advice. "+
		"Verify every cited decision against the published reasons before relying on it.", model, provider)
}

const chatSystemPrompt = "You are a helpful legal assistant that helps lawyers find and understand relevant cases."

var classifiedInstructions = map[QueryType]string{
	QueryCaseSpecific: `Your response should prioritize specific case details first:
1. Start with the most relevant cases that directly address the query
2. For each case, provide detailed analysis of the relevant facts, reasoning, and outcome
3. After presenting the cases, provide general legal information that helps understand the context
4. Structure the response with cases first, then general information`,
	QueryGeneral: `Your response should prioritize general legal information first:
1. Start with a clear explanation of the general legal concepts, principles, or processes
2. After explaining the general information, cite a few relevant cases as examples
3. Use the cases to illustrate how the general principles are applied in practice
4. Structure the response with general information first, then supporting cases`,
}

func buildChatPrompt(query string, qt QueryType, ctx models.Context, history []models.Message) string {
	var sb strings.Builder
	if len(history) > 0 {
		sb.WriteString("CONVERSATION HISTORY:\n")
		for _, m := range history {
			role := "User"
			if m.Role == models.RoleAssistant {
				role = "Assistant"
			}
			fmt.Fprintf(&sb, "%s: %s\n", role, m.Content)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, `USER QUERY: %s

RELEVANT CASES:
%s

%s

Based on the above relevant cases, provide a comprehensive and accurate response to the user's query.
If the provided cases are not relevant to the query or there is not enough information, say so clearly.
Do not make up information that isn't supported by the retrieved cases.

Format your response in compact markdown. Each case starts with "### Case N: [**Title**](case_url) (Citation_Number)"
and you MUST use the exact case URLs provided above.`,
		query, ctx.Text, classifiedInstructions[qt])
	return sb.String()
}
