// Package minutes turns a finished meeting into formatted minutes text
// using an external text-generation service.
package minutes

import (
	"fmt"
	"strings"
)

// NoHighlights stands in for an empty highlight list
const NoHighlights = "No specific highlights marked."

// Request carries everything the synthesizer needs about one meeting
type Request struct {
	// Transcript holds "Speaker: text" lines in order
	Transcript []string
	// Notes is the user's free-text notes
	Notes string
	// DelegateName is the display name of the other party
	DelegateName string
	// Highlights holds `Speaker said: "text"` excerpts in order
	Highlights []string
}

const promptTemplate = `You are an elite corporate secretary AI.
Create a professional Minutes of Meeting (MOM) and a concise Executive Summary for a meeting with %s.

CRITICAL INSTRUCTION:
1. **Manual Notes**: The user has taken specific manual notes. These are HIGH PRIORITY.
2. **Highlights**: The user explicitly HIGHLIGHTED specific lines in the transcript. These are CRITICAL discussion points.

You MUST integrate these manual notes and highlighted segments prominently into the Executive Summary and Action Items.
Use the general transcript to fill in details, context, and additional points discussed.

Structure the response clearly with Markdown:
## Executive Summary
(Merge insights from Manual Notes and Highlights here. Be impactful.)

## Key Takeaways (User Notes)
(List the specific points noted by the user)

## Critical Highlights (Flagged in Transcript)
(List the specific points the user highlighted from the live stream)

## Discussion Points (Transcript Analysis)
(Bulleted list of other discussion points from the live audio)

## Action Items
(Clear next steps with owners if mentioned)

Input Data:

[USER'S MANUAL NOTES - HIGH PRIORITY]
%s

[USER HIGHLIGHTED SEGMENTS - CRITICAL]
%s

[FULL LIVE TRANSCRIPT - SUPPORTING DATA]
%s
`

// BuildPrompt renders the request into the synthesis prompt
func BuildPrompt(req Request) string {
	highlights := NoHighlights
	if len(req.Highlights) > 0 {
		highlights = strings.Join(req.Highlights, "\n")
	}

	return fmt.Sprintf(promptTemplate,
		req.DelegateName,
		req.Notes,
		highlights,
		strings.Join(req.Transcript, "\n"),
	)
}
