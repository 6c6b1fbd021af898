package agent

// Role describes who an agent is when it works on a task.
type Role struct {
	Name            string
	Goal            string
	Backstory       string
	Temperature     float64
	AllowDelegation bool
}

var (
	// WebResearchSpecialist gathers raw material from the web.
	WebResearchSpecialist = Role{
		Name:        "Web Research Specialist",
		Goal:        "Search and gather accurate information from the web",
		Backstory:   "You are an expert at web research and information gathering. Your goal is to find relevant and accurate information from reliable sources.",
		Temperature: 0.7,
	}

	// ContentAnalyzer turns findings into themes and insights.
	ContentAnalyzer = Role{
		Name:            "Content Analyzer",
		Goal:            "Analyze and synthesize research findings",
		Backstory:       "You are an expert at analyzing and synthesizing information. Your goal is to process research findings and extract key insights.",
		Temperature:     0.5,
		AllowDelegation: true,
	}

	// FactChecker verifies the analysis.
	FactChecker = Role{
		Name:            "Fact Checker",
		Goal:            "Verify information accuracy and credibility",
		Backstory:       "You are an expert fact checker with a keen eye for detail. Your goal is to verify the accuracy of information and assess source credibility.",
		Temperature:     0.3,
		AllowDelegation: true,
	}
)
