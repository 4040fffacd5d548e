package extract

// Section is one heading and its body text in a generated proposal.
type Section struct {
	Heading string `json:"heading"`
	Content string `json:"content"`
}

// Sections is the fixed, ordered set of proposal sections.
type Sections [6]Section

// Section headings, in proposal order.
const (
	HeadingExecutiveSummary = "Executive Summary"
	HeadingRequirements     = "Understanding of Requirements"
	HeadingApproach         = "Approach & Methodology"
	HeadingTeam             = "Project Team"
	HeadingTimeline         = "Timeline"
	HeadingPricing          = "Pricing"
)

const (
	fallbackExcerpt = "We have carefully reviewed the RFP and understand the objectives and constraints."

	approachText = "We will follow a phased approach: discovery, design, implementation, testing, and deployment, ensuring quality and transparency throughout."
	teamText     = "Our experienced cross-functional team will lead strategy, design, engineering, QA, and project management."
	timelineText = "A detailed timeline will be finalized upon kickoff; typical delivery occurs in 8-12 weeks depending on scope."
	pricingText  = "Pricing is based on scope and effort; a fixed bid or time-and-materials model can be provided upon clarification of requirements."
)

// Headings returns the six section headings in order.
func Headings() []string {
	return []string{
		HeadingExecutiveSummary,
		HeadingRequirements,
		HeadingApproach,
		HeadingTeam,
		HeadingTimeline,
		HeadingPricing,
	}
}

func buildSections(summary, excerpt string) Sections {
	if excerpt == "" {
		excerpt = fallbackExcerpt
	}
	return Sections{
		{Heading: HeadingExecutiveSummary, Content: summary},
		{Heading: HeadingRequirements, Content: excerpt},
		{Heading: HeadingApproach, Content: approachText},
		{Heading: HeadingTeam, Content: teamText},
		{Heading: HeadingTimeline, Content: timelineText},
		{Heading: HeadingPricing, Content: pricingText},
	}
}

// Slice returns the sections as a slice, for JSON encoders that expect one.
func (s Sections) Slice() []Section { return s[:] }
