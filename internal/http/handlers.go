package http

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/solvd/internal/matrix"
	"github.com/fyrsmithlabs/solvd/internal/solve"
	"github.com/fyrsmithlabs/solvd/internal/solving"
	v1 "github.com/fyrsmithlabs/solvd/pkg/api/v1"
	"github.com/fyrsmithlabs/solvd/pkg/auth"
)

// maxListLimit bounds ?limit= on GET /solve.
const maxListLimit = 500

// submitBody is the POST /solve body. The matrix decodes through the
// domain type so the short axis names are accepted too.
type submitBody struct {
	RepoURL     string                  `json:"repo_url"`
	IssueNumber int                     `json:"issue_number"`
	BaseBranch  string                  `json:"base_branch"`
	Matrix      matrix.ExperimentMatrix `json:"matrix"`
	Limits      *v1.Limits              `json:"limits"`
	RequestedBy string                  `json:"requested_by"`
}

func (s *Server) handleSubmit(c echo.Context) error {
	var body submitBody
	if err := c.Bind(&body); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid submit request")
		return c.JSON(http.StatusBadRequest, v1.ErrorResponse{Code: v1.CodeInvalidRequest, Message: "invalid request body"})
	}

	req := solving.SubmitRequest{
		RepoURL:     body.RepoURL,
		IssueNumber: body.IssueNumber,
		BaseBranch:  body.BaseBranch,
		Matrix:      body.Matrix,
		RequestedBy: body.RequestedBy,
	}
	if body.Limits != nil {
		req.Limits = solve.Limits{MaxParallel: body.Limits.MaxParallel, TimeBudgetS: body.Limits.TimeBudgetS}
	}

	sv, err := s.solves.Submit(c.Request().Context(), auth.OwnerID(c), req)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, v1.SubmitResponse{SolveID: sv.ID, Status: "pending"})
}

func (s *Server) handleList(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			return c.JSON(http.StatusBadRequest, v1.ErrorResponse{
				Code:    v1.CodeInvalidRequest,
				Message: "limit must be an integer between 1 and 500",
			})
		}
		limit = n
	}

	solves, err := s.solves.List(c.Request().Context(), auth.OwnerID(c), limit)
	if err != nil {
		return s.writeError(c, err)
	}
	resp := v1.SolveList{Solves: make([]v1.Solve, 0, len(solves))}
	for i := range solves {
		resp.Solves = append(resp.Solves, toAPISolve(&solves[i]))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGet(c echo.Context) error {
	d, err := s.solves.Get(c.Request().Context(), auth.OwnerID(c), c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	resp := v1.SolveDetail{Solve: toAPISolve(d.Solve), Runs: toAPIRuns(d.Runs)}
	if d.Champion != nil {
		champion := toAPIRun(d.Champion)
		resp.Champion = &champion
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRuns(c echo.Context) error {
	runs, err := s.solves.Runs(c.Request().Context(), auth.OwnerID(c), c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, v1.RunList{Runs: toAPIRuns(runs)})
}
