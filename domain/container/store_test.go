package container_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/emergent-company/containersvc/domain/container"
	"github.com/emergent-company/containersvc/internal/testutil"
)

// StoreSuite exercises Store against a live Postgres template-DB clone,
// the same isolation pattern the teacher's tests/e2e suites use via
// testutil.SetupTestDB, just scoped to the store layer instead of a full
// HTTP server. An external test package, since internal/testutil itself
// imports domain/container (for the e2e HTTP harness), and an internal
// container test file importing testutil back would be a build cycle.
type StoreSuite struct {
	suite.Suite
	testDB *testutil.TestDB
	store  *container.Store
	ctx    context.Context
}

func TestStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("requires a live postgres instance")
	}
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	s.ctx = context.Background()
	testDB, err := testutil.SetupTestDB(s.ctx, "container-store")
	s.Require().NoError(err, "requires POSTGRES_HOST/POSTGRES_PORT reachable")
	s.testDB = testDB
}

func (s *StoreSuite) TearDownSuite() {
	if s.testDB != nil {
		s.testDB.Close()
	}
}

func (s *StoreSuite) SetupTest() {
	s.Require().NoError(s.testDB.BeginTestTx(s.ctx))
	s.store = container.NewStore(s.testDB.GetDB())
}

func (s *StoreSuite) TearDownTest() {
	s.Require().NoError(s.testDB.RollbackTestTx())
}

func (s *StoreSuite) createWorkspace() *container.Workspace {
	ws, err := s.store.CreateWorkspace(s.ctx, &container.Workspace{Branch: "vibe/test"})
	s.Require().NoError(err)
	return ws
}

func (s *StoreSuite) createSession(workspaceID string) *container.Session {
	sess, err := s.store.CreateSession(s.ctx, &container.Session{WorkspaceID: workspaceID})
	s.Require().NoError(err)
	return sess
}

func (s *StoreSuite) createProcess(sessionID string, reason container.RunReason, status container.Status) *container.ExecutionProcess {
	ep, err := s.store.CreateExecutionProcess(s.ctx, &container.ExecutionProcess{
		SessionID:      sessionID,
		Status:         status,
		RunReason:      reason,
		ExecutorAction: &container.Action{Type: container.ActionScriptRequest, Script: &container.ScriptRequest{Script: "true"}},
	})
	s.Require().NoError(err)
	return ep
}

func (s *StoreSuite) TestRunningProcessesForSession_ReturnsEveryRunningRow() {
	ws := s.createWorkspace()
	sess := s.createSession(ws.ID)

	dev := s.createProcess(sess.ID, container.RunReasonDevServer, container.StatusRunning)
	setup := s.createProcess(sess.ID, container.RunReasonSetupScript, container.StatusRunning)
	_ = s.createProcess(sess.ID, container.RunReasonCodingAgent, container.StatusCompleted)

	running, err := s.store.RunningProcessesForSession(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Len(running, 2, "both the dev server and the newer setup script are Running")

	ids := []string{running[0].ID, running[1].ID}
	s.Contains(ids, dev.ID)
	s.Contains(ids, setup.ID)
	s.Equal(dev.ID, running[0].ID, "oldest first")
}

func (s *StoreSuite) TestRunningProcessesForSession_EmptyWhenNoneRunning() {
	ws := s.createWorkspace()
	sess := s.createSession(ws.ID)
	s.createProcess(sess.ID, container.RunReasonCodingAgent, container.StatusCompleted)

	running, err := s.store.RunningProcessesForSession(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Empty(running)
}

func (s *StoreSuite) TestAddWorkspaceRepo_DuplicateReturnsConflict() {
	ws := s.createWorkspace()
	repo, err := s.store.CreateRepo(s.ctx, &container.Repo{Name: "app", Path: "/repos/app"})
	s.Require().NoError(err)

	link := &container.WorkspaceRepo{WorkspaceID: ws.ID, RepoID: repo.ID}
	s.Require().NoError(s.store.AddWorkspaceRepo(s.ctx, link))

	err = s.store.AddWorkspaceRepo(s.ctx, link)
	s.Require().Error(err)

	var ce *container.ContainerError
	require.ErrorAs(s.T(), err, &ce)
	s.Equal(container.ErrKindConflict, ce.Kind)
}

func (s *StoreSuite) TestCreateCodingAgentTurn_DuplicateReturnsConflict() {
	ws := s.createWorkspace()
	sess := s.createSession(ws.ID)
	ep := s.createProcess(sess.ID, container.RunReasonCodingAgent, container.StatusRunning)

	turn := &container.CodingAgentTurn{ExecutionProcessID: ep.ID}
	_, err := s.store.CreateCodingAgentTurn(s.ctx, turn)
	s.Require().NoError(err)

	_, err = s.store.CreateCodingAgentTurn(s.ctx, &container.CodingAgentTurn{ExecutionProcessID: ep.ID})
	s.Require().Error(err)

	var ce *container.ContainerError
	require.ErrorAs(s.T(), err, &ce)
	s.Equal(container.ErrKindConflict, ce.Kind)
}
