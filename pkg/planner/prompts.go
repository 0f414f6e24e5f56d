package planner

const planSystemPrompt = "You are an expert software architect. Generate clear, actionable " +
	"implementation plans based on actual repository structure. " +
	"Never include code snippets; only describe what needs to be done."

const planInstructions = `
Generate a detailed implementation plan (PLAN.md) to address this feedback. The plan should include:

1. **Summary**: Brief overview of the issue or feature request
2. **Files to Modify**: List specific files that need changes
3. **Implementation Steps**: Step-by-step instructions describing WHAT to do
4. **Testing**: How to verify the changes work
5. **Risks**: Any potential issues or dependencies

**IMPORTANT:** Do NOT include any code snippets or code blocks. Only reference file paths and describe changes in plain English.
Format the plan as clean markdown with NO code blocks.`

const enrichSystemPrompt = "You are a senior engineer enriching GitHub issues with codebase " +
	"context. Output valid JSON only. No code snippets."

const enrichInstructions = `Enhance the issue with:
1. References to specific files or directories
2. Which parts of the codebase might need changes
3. Technical context based on the detected tech stack
4. The user's original intent kept intact
5. A clean, concise title with no markdown, max 80 characters
6. A description in proper GitHub-flavored markdown

Do NOT include any actual code snippets.

Output a JSON object with "title" and "description" keys.`

const jsonOnlySystemPrompt = "Output valid JSON only."

const verifyInstructions = `Clean up the markdown of this issue without changing its meaning. No code.
Output JSON: {"title": "...", "description": "..."}`

const classifyInstructions = `Classify this user feedback as a ticket.
- "title": a clean, concise title with no markdown, max 80 characters
- "ticket_type": one of "bug", "feature", "enhancement", "question"
- "severity_score": 0 to 200; above 100 means many users are blocked or data is at risk
Output JSON: {"title": "...", "ticket_type": "...", "severity_score": 0}`
