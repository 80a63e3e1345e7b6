package main

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

type DirectoryUserSource interface {
	GroupUsers(ctx context.Context, group string, targetGroupID int64) ([]DirectoryUser, error)
}

type RemoteUserSource interface {
	ListPpskUsers(ctx context.Context, groupID int64) ([]RemotePpskUser, error)
	ListPcgUsers(ctx context.Context, policyID int64) ([]RemotePcgUser, error)
}

type MutationGateway interface {
	CreatePpskUser(ctx context.Context, name, accountName, email string, groupID int64) error
	DeletePpskUser(ctx context.Context, id int64) error
	AddUserToPcg(ctx context.Context, policyID int64, accountName, email, groupName string) error
	DeletePcgUser(ctx context.Context, policyID, userID int64) error
}

type Authenticator interface {
	Authenticate(ctx context.Context) error
}

type Counters struct {
	PpskCreateErrors int
	PcgCreateErrors  int
	PpskDeleteErrors int
	PcgDeleteErrors  int

	Created    int
	PcgAdded   int
	Deleted    int
	PcgDeleted int
}

type Summary struct {
	Counters

	DirectoryCaptureSuccess bool
	PpskCaptureSuccess      bool
	PcgCaptureSuccess       bool
	DeletionSkipped         bool

	UserDecisions   map[string]Decision
	RemoteDecisions map[int64]Decision
}

type Engine struct {
	cfg      Config
	auth     Authenticator
	dir      DirectoryUserSource
	remote   RemoteUserSource
	gateway  MutationGateway
	report   *RunReport
	log      *zap.Logger
	disabled map[string]struct{}
}

// NewEngine builds the reconciler. auth may be nil when the remote client is
// already authenticated.
func NewEngine(
	log *zap.Logger,
	cfg Config,
	auth Authenticator,
	dir DirectoryUserSource,
	remote RemoteUserSource,
	gateway MutationGateway,
	report *RunReport,
) *Engine {
	return &Engine{
		cfg:      cfg,
		auth:     auth,
		dir:      dir,
		remote:   remote,
		gateway:  gateway,
		report:   report,
		log:      log.Named("engine"),
		disabled: cfg.DisabledCodeSet(),
	}
}

// directorySet keeps the first occurrence of each account in discovery order.
type directorySet struct {
	order     []string
	byAccount map[string]DirectoryUser
}

// Run executes one reconciliation pass. The returned error is non-nil only
// when the run was terminated before any mutation.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	summary := Summary{
		UserDecisions:   make(map[string]Decision),
		RemoteDecisions: make(map[int64]Decision),
	}

	if e.auth != nil {
		if err := e.auth.Authenticate(ctx); err != nil && PolicyFor(PhaseAuth, err) == PolicyEscalate {
			e.report.Abort(ctx, fmt.Sprintf("unable to authenticate to ExtremeCloud IQ: %v", err), zap.Error(err))
			return summary, fmt.Errorf("authenticate: %w", err)
		}
	}

	ppskUsers, ppskOK := e.fetchPpskUsers(ctx)
	summary.PpskCaptureSuccess = ppskOK

	dirUsers, dirOK := e.fetchDirectoryUsers(ctx)
	summary.DirectoryCaptureSuccess = dirOK

	active := e.createPhase(ctx, dirUsers, ppskUsers, &summary)

	if !dirOK {
		summary.DeletionSkipped = true
		e.report.Warn("No users will be deleted from XIQ because of the error(s) in reading directory users")
	} else {
		pcgUsers, pcgOK := e.fetchPcgUsers(ctx)
		summary.PcgCaptureSuccess = pcgOK

		e.deletePhase(ctx, ppskUsers, active, pcgUsers, pcgOK, &summary)
	}

	e.reportTotals(summary.Counters)

	return summary, nil
}

func (e *Engine) fetchPpskUsers(ctx context.Context) ([]RemotePpskUser, bool) {
	var (
		users  []RemotePpskUser
		failed []int64
		seen   = make(map[int64]struct{})
	)

	for _, role := range e.cfg.GroupRoles {
		if _, ok := seen[role.XIQGroupID]; ok {
			continue
		}

		seen[role.XIQGroupID] = struct{}{}

		groupUsers, err := e.remote.ListPpskUsers(ctx, role.XIQGroupID)
		if err != nil {
			e.report.Error(fmt.Sprintf("Error retrieving PPSK users of group %d: %v", role.XIQGroupID, err),
				zap.String("kind", KindOf(err).String()), zap.Error(err))
			failed = append(failed, role.XIQGroupID)
			continue
		}

		users = append(users, groupUsers...)
	}

	if len(failed) > 0 {
		e.report.Warn(fmt.Sprintf(
			"PPSK users of groups %v could not be read; users already present in those groups may be created again",
			failed))
	}

	e.report.Info(fmt.Sprintf("Successfully parsed %d XIQ users", len(users)))

	return users, len(failed) == 0
}

func (e *Engine) fetchDirectoryUsers(ctx context.Context) (directorySet, bool) {
	set := directorySet{byAccount: make(map[string]DirectoryUser)}
	ok := true

	for _, role := range e.cfg.GroupRoles {
		users, err := e.dir.GroupUsers(ctx, role.DirectoryGroup, role.XIQGroupID)
		if err != nil {
			ok = false
			e.report.Error(fmt.Sprintf("Error reading directory group %s: %v", role.DirectoryGroup, err),
				zap.String("kind", KindOf(err).String()), zap.Error(err))
		}

		for _, u := range users {
			if _, exists := set.byAccount[u.AccountName]; exists {
				e.report.Warn(fmt.Sprintf("User %s already exists in data, skipping user", u.AccountName),
					zap.String("group", role.DirectoryGroup))
				continue
			}

			set.byAccount[u.AccountName] = u
			set.order = append(set.order, u.AccountName)
		}
	}

	e.report.Info(fmt.Sprintf("Successfully parsed %d directory users", len(set.order)))

	return set, ok
}

func (e *Engine) decide(u DirectoryUser, ppskByName map[string]RemotePpskUser) Decision {
	if _, ok := u.Email(); !ok {
		return DecisionSkipNoEmail
	}

	if _, ok := e.disabled[u.UserAccountControl]; ok {
		return DecisionSkipDisabled
	}

	if _, ok := ppskByName[u.AccountName]; ok {
		return DecisionAlreadyPresent
	}

	return DecisionCreate
}

// createPhase creates missing accounts and returns the e-mail keys of the
// active directory users.
func (e *Engine) createPhase(
	ctx context.Context,
	dirUsers directorySet,
	ppskUsers []RemotePpskUser,
	summary *Summary,
) map[string]struct{} {
	ppskByName := make(map[string]RemotePpskUser, len(ppskUsers))
	for _, u := range ppskUsers {
		if _, ok := ppskByName[u.UserName]; !ok {
			ppskByName[u.UserName] = u
		}
	}

	active := make(map[string]struct{}, len(dirUsers.order))

	for _, name := range dirUsers.order {
		u := dirUsers.byAccount[name]
		decision := e.decide(u, ppskByName)
		summary.UserDecisions[name] = decision

		switch decision {
		case DecisionSkipNoEmail:
			e.report.Warn(fmt.Sprintf("User %s doesn't have an email set and will not be created in xiq", name))
			continue
		case DecisionSkipDisabled:
			e.report.Info(fmt.Sprintf("User %s is disabled in directory with disable code %s", name, u.UserAccountControl))
			continue
		case DecisionCreate:
			e.create(ctx, u, summary)
		}

		email, _ := u.Email()
		active[emailKey(email)] = struct{}{}
	}

	return active
}

func (e *Engine) create(ctx context.Context, u DirectoryUser, summary *Summary) {
	email, _ := u.Email()

	name := u.DisplayName
	if name == "" {
		name = u.AccountName
	}

	if err := e.gateway.CreatePpskUser(ctx, name, u.AccountName, email, u.TargetGroupID); err != nil {
		summary.PpskCreateErrors++
		e.report.Error(fmt.Sprintf("failed to create %s: %v", u.AccountName, err), zap.Error(err))
		return
	}

	summary.Created++
	e.report.Info(fmt.Sprintf("successfully created PPSK user %s", u.AccountName))

	policy, ok := e.cfg.PCGPolicy(u.TargetGroupID)
	if !ok {
		return
	}

	if err := e.gateway.AddUserToPcg(ctx, policy.PolicyID, u.AccountName, email, policy.UserGroupName); err != nil {
		summary.PcgCreateErrors++
		e.report.Error(fmt.Sprintf("failed to add %s to pcg %s: %v", u.AccountName, policy.PolicyName, err), zap.Error(err))
		return
	}

	summary.PcgAdded++
	e.report.Info(fmt.Sprintf("User %s - was successfully added to pcg %s", u.AccountName, policy.PolicyName))
}

// fetchPcgUsers reads the users of every mapped policy. Any failure marks the
// whole snapshot incomplete since a candidate may live under any policy.
func (e *Engine) fetchPcgUsers(ctx context.Context) ([]RemotePcgUser, bool) {
	if !e.cfg.PCG.Enabled {
		return nil, true
	}

	policyIDs := make([]int64, 0, len(e.cfg.PCG.Mapping))
	seen := make(map[int64]struct{})

	for _, m := range e.cfg.PCG.Mapping {
		if _, ok := seen[m.PolicyID]; ok {
			continue
		}

		seen[m.PolicyID] = struct{}{}
		policyIDs = append(policyIDs, m.PolicyID)
	}

	sort.Slice(policyIDs, func(i, j int) bool { return policyIDs[i] < policyIDs[j] })

	var users []RemotePcgUser

	ok := true

	for _, id := range policyIDs {
		policyUsers, err := e.remote.ListPcgUsers(ctx, id)
		if err != nil {
			ok = false
			e.report.Error(fmt.Sprintf("Error retrieving PCG users for policy id %d: %v", id, err), zap.Error(err))
			continue
		}

		users = append(users, policyUsers...)
	}

	e.report.Info(fmt.Sprintf("Successfully parsed %d PCG users", len(users)))

	return users, ok
}

func (e *Engine) deletePhase(
	ctx context.Context,
	ppskUsers []RemotePpskUser,
	active map[string]struct{},
	pcgUsers []RemotePcgUser,
	pcgOK bool,
	summary *Summary,
) {
	pcgByEmail := make(map[string]RemotePcgUser, len(pcgUsers))
	for _, u := range pcgUsers {
		key := emailKey(u.Email)
		if _, ok := pcgByEmail[key]; !ok {
			pcgByEmail[key] = u
		}
	}

	policyByGroupName := make(map[string]PolicyMapping, len(e.cfg.PCG.Mapping))
	for _, m := range e.cfg.PCG.Mapping {
		policyByGroupName[m.UserGroupName] = m
	}

	for _, x := range ppskUsers {
		if _, ok := active[emailKey(x.Email)]; ok {
			summary.RemoteDecisions[x.ID] = DecisionKeep
			continue
		}

		summary.RemoteDecisions[x.ID] = DecisionDelete

		if policy, cascade := e.cfg.PCGPolicy(x.GroupID); cascade {
			if !pcgOK {
				summary.RemoteDecisions[x.ID] = DecisionDeleteWithPcg
				summary.PpskDeleteErrors++
				summary.PcgDeleteErrors++
				e.report.Error(fmt.Sprintf("Due to PCG read failure, user %s cannot be deleted", x.Email))
				continue
			}

			if pu, found := pcgByEmail[emailKey(x.Email)]; found {
				summary.RemoteDecisions[x.ID] = DecisionDeleteWithPcg

				if m, ok := policyByGroupName[pu.UserGroupName]; ok {
					policy = m
				}

				if err := e.gateway.DeletePcgUser(ctx, policy.PolicyID, pu.ID); err != nil {
					summary.PpskDeleteErrors++
					summary.PcgDeleteErrors++
					e.report.Error(fmt.Sprintf("Failed to delete user %s from PCG group %s, user cannot be deleted from the PPSK group: %v",
						x.Email, policy.PolicyName, err), zap.Error(err))
					continue
				}

				summary.PcgDeleted++
				e.report.Info(fmt.Sprintf("User %s - %d was successfully deleted from pcg group %s", x.Email, pu.ID, policy.PolicyName))
			}
		}

		if err := e.gateway.DeletePpskUser(ctx, x.ID); err != nil {
			summary.PpskDeleteErrors++
			e.report.Error(fmt.Sprintf("Failed to delete user %s: %v", x.Email, err), zap.Error(err))
			continue
		}

		summary.Deleted++
		e.report.Info(fmt.Sprintf("User %s - %d was successfully deleted", x.Email, x.ID))
	}
}

func (e *Engine) reportTotals(c Counters) {
	totals := []struct {
		n    int
		what string
	}{
		{c.PpskCreateErrors, "creating PPSK users"},
		{c.PcgCreateErrors, "creating PCG users"},
		{c.PpskDeleteErrors, "deleting PPSK users"},
		{c.PcgDeleteErrors, "deleting PCG users"},
	}

	for _, t := range totals {
		if t.n > 0 {
			e.report.Info(fmt.Sprintf("There were %d errors %s on this run.", t.n, t.what))
		}
	}

	e.log.Info("run finished",
		zap.Int("created", c.Created),
		zap.Int("pcg_added", c.PcgAdded),
		zap.Int("deleted", c.Deleted),
		zap.Int("pcg_deleted", c.PcgDeleted),
	)
}
