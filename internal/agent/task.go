package agent

import (
	"DeepResearch/internal/events"
)

const actionTaskCreation = "Task Creation"

// Task is one unit of work for a role. Context carries the output of the
// previous stage, if any.
type Task struct {
	Description    string
	ExpectedOutput string
	Role           Role
	Context        string
}

// ResearchTask asks the research specialist to investigate query.
func ResearchTask(p events.Publisher, query string) Task {
	notify(p, "Creating research task", query, "Initializing web research task")
	return Task{
		Description: "Research the following topic thoroughly: " + query + `
1. Search for recent and reliable information
2. Gather key facts and insights
3. Include relevant statistics and data
4. Note any conflicting information
5. Save important quotes and citations`,
		ExpectedOutput: `Detailed research findings including:
- Key facts and insights
- Statistics and data
- Expert opinions
- Source citations`,
		Role: WebResearchSpecialist,
	}
}

// AnalysisTask asks the content analyzer to work through research.
func AnalysisTask(p events.Publisher, research string) Task {
	notify(p, "Creating analysis task", "Processing research results", "Initializing content analysis task")
	return Task{
		Description: `Analyze the research findings and:
1. Identify main themes and patterns
2. Extract key insights
3. Organize information logically
4. Highlight significant findings
5. Note areas needing further research`,
		ExpectedOutput: `Comprehensive analysis including:
- Main themes identified
- Key insights extracted
- Logical organization of findings
- Areas for further research`,
		Role:    ContentAnalyzer,
		Context: research,
	}
}

// FactCheckTask asks the fact checker to verify analysis.
func FactCheckTask(p events.Publisher, analysis string) Task {
	notify(p, "Creating fact checking task", "Verifying analysis results", "Initializing fact checking task")
	return Task{
		Description: `Verify the analyzed information:
1. Check accuracy of facts and statistics
2. Verify source credibility
3. Cross-reference key claims
4. Identify potential biases
5. Flag any questionable information`,
		ExpectedOutput: `Verification report including:
- Confirmed facts and statistics
- Source credibility assessment
- Cross-reference results
- Identified biases or concerns`,
		Role:    FactChecker,
		Context: analysis,
	}
}

func notify(p events.Publisher, thought, input, observation string) {
	if p != nil {
		p.NotifyStep(thought, actionTaskCreation, input, observation)
	}
}
