package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fleetshift/deployd/internal/api"
	"github.com/fleetshift/deployd/internal/application"
	"github.com/fleetshift/deployd/internal/domain"
)

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleCreateWorkspace(c *gin.Context) {
	var req api.CreateWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, invalid(err), "")
		return
	}
	ws, err := s.workspaces.Create(c.Request.Context(), req.Paths)
	if err != nil {
		s.writeError(c, err, "")
		return
	}
	c.JSON(http.StatusCreated, api.WorkspaceResponse{Workspace: api.FromWorkspace(ws)})
}

func (s *Server) handleListWorkspaces(c *gin.Context) {
	list, err := s.workspaces.List(c.Request.Context())
	if err != nil {
		s.writeError(c, err, "")
		return
	}
	out := api.WorkspaceList{Workspaces: make([]api.Workspace, 0, len(list))}
	for _, ws := range list {
		out.Workspaces = append(out.Workspaces, api.FromWorkspace(ws))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetWorkspace(c *gin.Context) {
	ws, err := s.workspaces.Get(c.Request.Context(), domain.WorkspaceID(c.Param("id")))
	if err != nil {
		s.writeError(c, err, "")
		return
	}
	c.JSON(http.StatusOK, api.WorkspaceResponse{Workspace: api.FromWorkspace(ws)})
}

// handleCreateDeployment validates the worker configuration and starts
// provisioning. With wait=true (the default) it responds once every slot
// is healthy or the create has failed.
func (s *Server) handleCreateDeployment(c *gin.Context) {
	wait, err := waitParam(c)
	if err != nil {
		s.writeError(c, err, "")
		return
	}
	var req api.CreateDeploymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, invalid(err), "")
		return
	}

	ctx := c.Request.Context()
	op, err := s.registry.Create(ctx, application.CreateDeploymentInput{
		WorkspaceID: domain.WorkspaceID(req.WorkspaceID),
		Config: domain.WorkerConfig{
			Replicas: req.Replicas,
			Shards:   req.Shards,
			Args:     req.Args,
		},
	})
	if err != nil {
		s.writeError(c, err, "")
		return
	}

	status := http.StatusAccepted
	if wait {
		if !s.await(c, op) {
			return
		}
		status = http.StatusCreated
	}
	d, err := s.registry.Get(ctx, op.DeploymentID)
	if err != nil {
		s.writeError(c, err, string(op.DeploymentID))
		return
	}
	c.JSON(status, api.DeploymentResponse{Deployment: api.FromDeployment(d)})
}

func (s *Server) handleListDeployments(c *gin.Context) {
	list, err := s.registry.List(c.Request.Context())
	if err != nil {
		s.writeError(c, err, "")
		return
	}
	out := api.DeploymentList{Deployments: make([]api.Deployment, 0, len(list))}
	for _, d := range list {
		out.Deployments = append(out.Deployments, api.FromDeployment(d))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetDeployment(c *gin.Context) {
	d, err := s.registry.Get(c.Request.Context(), domain.DeploymentID(c.Param("id")))
	if err != nil {
		s.writeError(c, err, "")
		return
	}
	c.JSON(http.StatusOK, api.DeploymentResponse{Deployment: api.FromDeployment(d)})
}

// handleScaleDeployment takes the target per-shard replica count from the
// replicas query parameter. shards, if given, must equal the deployment's
// shard count.
func (s *Server) handleScaleDeployment(c *gin.Context) {
	wait, err := waitParam(c)
	if err != nil {
		s.writeError(c, err, "")
		return
	}
	replicas, err := intParam(c, "replicas", true)
	if err != nil {
		s.writeError(c, err, "")
		return
	}
	shards, err := intParam(c, "shards", false)
	if err != nil {
		s.writeError(c, err, "")
		return
	}

	id := domain.DeploymentID(c.Param("id"))
	op, err := s.registry.ApplyScale(c.Request.Context(), application.ScaleRequest{
		DeploymentID: id,
		Replicas:     replicas,
		Shards:       shards,
	})
	if err != nil {
		s.writeError(c, err, "")
		return
	}
	s.respondOperation(c, op, wait, true)
}

func (s *Server) handleDeleteDeployment(c *gin.Context) {
	wait, err := waitParam(c)
	if err != nil {
		s.writeError(c, err, "")
		return
	}
	op, err := s.registry.Delete(c.Request.Context(), domain.DeploymentID(c.Param("id")))
	if err != nil {
		s.writeError(c, err, "")
		return
	}
	s.respondOperation(c, op, wait, false)
}

func (s *Server) respondOperation(c *gin.Context, op *application.Operation, wait, snapshot bool) {
	resp := api.OperationResponse{DeploymentID: string(op.DeploymentID)}
	status := http.StatusAccepted
	if wait {
		if !s.await(c, op) {
			return
		}
		resp.Success = true
		status = http.StatusOK
	} else {
		resp.Accepted = true
	}

	if snapshot {
		d, err := s.registry.Get(c.Request.Context(), op.DeploymentID)
		if err != nil {
			s.writeError(c, err, string(op.DeploymentID))
			return
		}
		out := api.FromDeployment(d)
		resp.Deployment = &out
	}
	c.JSON(status, resp)
}

// await blocks until op completes. It writes the error response and
// returns false if the operation failed or the client went away.
func (s *Server) await(c *gin.Context, op *application.Operation) bool {
	_, err := op.Wait(c.Request.Context())
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.Info("client stopped waiting", "deployment_id", op.DeploymentID, "kind", op.Kind)
		c.Status(http.StatusRequestTimeout)
		return false
	}
	s.writeError(c, err, string(op.DeploymentID))
	return false
}

func (s *Server) writeError(c *gin.Context, err error, deploymentID string) {
	code, status := api.Classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.AbortWithStatusJSON(status, api.ErrorBody{Error: api.ErrorDetail{
		Code:         code,
		Message:      err.Error(),
		DeploymentID: deploymentID,
	}})
}

func invalid(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
}

func waitParam(c *gin.Context) (bool, error) {
	raw, ok := c.GetQuery("wait")
	if !ok || raw == "" {
		return true, nil
	}
	wait, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: wait must be a boolean, got %q", domain.ErrInvalidArgument, raw)
	}
	return wait, nil
}

func intParam(c *gin.Context, name string, required bool) (int, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		if required {
			return 0, fmt.Errorf("%w: %s is required", domain.ErrInvalidArgument, name)
		}
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", domain.ErrInvalidArgument, name, raw)
	}
	return n, nil
}
