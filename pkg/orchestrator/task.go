package orchestrator

import (
	"figflow/pkg/config"
	"figflow/pkg/templates"
)

// buildTask renders the task every worker receives. A correction from the
// outer gate is appended as its own section.
func buildTask(r *templates.Renderer, in DesignInput, roles config.Roles, correction string) (string, error) {
	return r.Render(templates.TaskTemplate, templates.TaskData{
		Design: templates.Design{
			PCLink:        in.PCLink,
			PCFileKey:     in.PCFileKey(),
			PCNodeID:      in.ResolvedPCNodeID(),
			MobileLink:    in.MobileLink,
			MobileFileKey: in.MobileFileKey(),
			MobileNodeID:  in.ResolvedMobileNodeID(),
		},
		Correction: correction,
		Steps: []templates.Participant{
			{Name: roles.Analyst, Description: "analyze the page structure and layout of the design"},
			{Name: roles.CodeWriter, Description: "generate the HTML/CSS code and save every file with write_file"},
			{Name: roles.CodeReviewer, Description: "read the generated files and check them against the coding rules"},
			{Name: roles.FidelityReviewer, Description: "compare the result with the design and report the similarity"},
		},
	})
}
