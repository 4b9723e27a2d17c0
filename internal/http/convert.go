package http

import (
	"github.com/fyrsmithlabs/solvd/internal/solve"
	v1 "github.com/fyrsmithlabs/solvd/pkg/api/v1"
)

func toAPISolve(sv *solve.Solve) v1.Solve {
	return v1.Solve{
		ID:          sv.ID,
		RepoURL:     sv.RepoURL,
		IssueNumber: sv.IssueNumber,
		BaseBranch:  sv.BaseBranch,
		Status:      string(sv.Status),
		Matrix: v1.Matrix{
			Models:              sv.Matrix.Models,
			Temperatures:        sv.Matrix.Temperatures,
			MaxEditBudgets:      sv.Matrix.MaxEditBudgets,
			EvolutionStrategies: sv.Matrix.EvolutionStrategies,
		},
		Limits:        v1.Limits{MaxParallel: sv.Limits.MaxParallel, TimeBudgetS: sv.Limits.TimeBudgetS},
		ChampionRunID: sv.ChampionRunID,
		ErrorMessage:  sv.ErrorMessage,
		RequestedBy:   sv.RequestedBy,
		StartedAt:     sv.StartedAt,
		CompletedAt:   sv.CompletedAt,
		CreatedAt:     sv.CreatedAt,
		UpdatedAt:     sv.UpdatedAt,
	}
}

func toAPIRun(r *solve.Run) v1.Run {
	return v1.Run{
		ID:           r.ID,
		SolveID:      r.SolveID,
		Ordinal:      r.Ordinal,
		Model:        r.Model,
		Temperature:  r.Temperature,
		MaxEdits:     r.MaxEdits,
		Evolution:    r.Evolution,
		Status:       string(r.Status),
		SandboxID:    r.SandboxID,
		BranchName:   r.BranchName,
		TestsPassed:  r.TestsPassed,
		PRURL:        r.PRURL,
		FilesChanged: r.FilesChanged,
		LOCChanged:   r.LOCChanged,
		LatencyMS:    r.LatencyMS,
		Diagnostics:  r.Diagnostics,
		ErrorMessage: r.ErrorMessage,
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
	}
}

func toAPIRuns(runs []solve.Run) []v1.Run {
	out := make([]v1.Run, 0, len(runs))
	for i := range runs {
		out = append(out, toAPIRun(&runs[i]))
	}
	return out
}
