package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/smallbiznis/cloudcost/internal/docstore"
	"go.uber.org/zap"
)

// Enumerator discovers the scopes of one run. The set of variants is closed;
// pick one at startup from configuration.
type Enumerator interface {
	Enumerate(ctx context.Context) ([]Scope, error)
	enumerator()
}

type BillingAccount struct {
	ID          string
	DisplayName string
	Open        bool
}

type BillingAccountLister interface {
	BillingAccounts(ctx context.Context) iter.Seq2[BillingAccount, error]
}

type Project struct {
	ID          string
	Number      string
	DisplayName string
	State       string
}

// ProjectLister lists projects below a parent such as folders/123 or organizations/456.
type ProjectLister interface {
	Projects(ctx context.Context, parent string) iter.Seq2[Project, error]
}

// StaticScopes yields a fixed list.
type StaticScopes struct {
	Scopes []Scope
}

func (StaticScopes) enumerator() {}

func (s StaticScopes) Enumerate(context.Context) ([]Scope, error) {
	return slices.Clone(s.Scopes), nil
}

// BillingAccounts lists the open accounts visible to the caller, optionally
// narrowed to AllowList.
type BillingAccounts struct {
	Lister    BillingAccountLister
	AllowList []string
	Log       *zap.Logger
}

func (BillingAccounts) enumerator() {}

func (b BillingAccounts) Enumerate(ctx context.Context) ([]Scope, error) {
	log := nopIfNil(b.Log)
	allowed := make(map[string]struct{}, len(b.AllowList))
	for _, id := range b.AllowList {
		allowed[strings.TrimPrefix(strings.TrimSpace(id), "billingAccounts/")] = struct{}{}
	}

	var (
		scopes  []Scope
		listErr error
	)
	for acct, err := range b.Lister.BillingAccounts(ctx) {
		if err != nil {
			listErr = err
			break
		}
		if !acct.Open {
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[acct.ID]; !ok {
				continue
			}
		}
		scopes = append(scopes, Scope{
			ID:    acct.ID,
			Kind:  ScopeBillingAccount,
			Attrs: map[string]string{AttrDisplayName: acct.DisplayName},
		})
	}

	if listErr != nil {
		if len(allowed) > 0 && len(scopes) == 0 {
			// Accounts can be readable without list permission on the parent.
			log.Warn("billing account listing failed, using allow-list as is",
				zap.Error(listErr),
				zap.Int("allow_list", len(allowed)),
			)
			for _, id := range sortedKeys(allowed) {
				scopes = append(scopes, Scope{ID: id, Kind: ScopeBillingAccount})
			}
			return scopes, nil
		}
		if len(scopes) == 0 {
			return nil, RemoteError("list billing accounts", 1, listErr)
		}
		log.Warn("billing account listing incomplete", zap.Error(listErr), zap.Int("accounts", len(scopes)))
	}

	if len(allowed) > 0 && len(scopes) == 0 {
		return nil, NewConfigurationError("BILLING_ACCOUNT_IDS", "none of %d configured accounts is accessible", len(allowed))
	}
	if len(allowed) > 0 && len(scopes) < len(allowed) {
		log.Warn("some configured billing accounts are not accessible",
			zap.Int("configured", len(allowed)),
			zap.Int("accessible", len(scopes)),
		)
	}
	return scopes, nil
}

// SingleProject yields exactly one project scope.
type SingleProject struct {
	ProjectID string
	Number    string
}

func (SingleProject) enumerator() {}

func (s SingleProject) Enumerate(context.Context) ([]Scope, error) {
	if strings.TrimSpace(s.ProjectID) == "" {
		return nil, NewConfigurationError("SCOPE_ID", "project id is empty")
	}
	return []Scope{projectScope(Project{ID: s.ProjectID, Number: s.Number})}, nil
}

// FolderProjects lists ACTIVE projects below each folder. A folder whose listing
// fails is skipped; when nothing is found Fallback (if set) is used.
type FolderProjects struct {
	Lister    ProjectLister
	FolderIDs []string
	Fallback  string
	Log       *zap.Logger
}

func (FolderProjects) enumerator() {}

func (f FolderProjects) Enumerate(ctx context.Context) ([]Scope, error) {
	parents := make([]string, 0, len(f.FolderIDs))
	for _, id := range f.FolderIDs {
		parents = append(parents, withPrefix(id, "folders/"))
	}
	return listProjects(ctx, f.Lister, parents, f.Fallback, nopIfNil(f.Log))
}

// OrganizationProjects lists ACTIVE projects anywhere below an organization.
type OrganizationProjects struct {
	Lister         ProjectLister
	OrganizationID string
	Fallback       string
	Log            *zap.Logger
}

func (OrganizationProjects) enumerator() {}

func (o OrganizationProjects) Enumerate(ctx context.Context) ([]Scope, error) {
	if strings.TrimSpace(o.OrganizationID) == "" {
		return nil, NewConfigurationError("SCOPE_ID", "organization id is empty")
	}
	return listProjects(ctx, o.Lister, []string{withPrefix(o.OrganizationID, "organizations/")}, o.Fallback, nopIfNil(o.Log))
}

// InventoryProjects reads a pre-populated project inventory collection and
// never calls a discovery API.
type InventoryProjects struct {
	Store        docstore.Store
	Collection   string
	ProjectField string
	NumberField  string
	Log          *zap.Logger
}

func (InventoryProjects) enumerator() {}

func (p InventoryProjects) Enumerate(ctx context.Context) ([]Scope, error) {
	field := p.ProjectField
	if field == "" {
		field = "project_id"
	}
	numberField := p.NumberField
	if numberField == "" {
		numberField = "project_number"
	}

	seen := map[string]struct{}{}
	var scopes []Scope
	for doc, err := range p.Store.Documents(ctx, p.Collection) {
		if err != nil {
			return scopes, RemoteError("read project inventory", 1, err)
		}
		id, _ := doc.Data[field].(string)
		if id == "" {
			continue
		}
		if state, ok := doc.Data["state"].(string); ok && state != "" && !strings.EqualFold(state, "ACTIVE") {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		scopes = append(scopes, projectScope(Project{ID: id, Number: fmt.Sprint(valueOr(doc.Data[numberField], ""))}))
	}
	nopIfNil(p.Log).Info("project inventory loaded", zap.String("collection", p.Collection), zap.Int("projects", len(scopes)))
	return scopes, nil
}

// CrossProduct expands every scope of Base into one scope per
// recommender type and location.
type CrossProduct struct {
	Base      Enumerator
	Types     []string
	Locations []string
}

func (CrossProduct) enumerator() {}

func (c CrossProduct) Enumerate(ctx context.Context) ([]Scope, error) {
	base, err := c.Base.Enumerate(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Scope, 0, len(base)*len(c.Types)*len(c.Locations))
	for _, b := range base {
		for _, loc := range c.Locations {
			for _, typ := range c.Types {
				attrs := map[string]string{
					AttrLocation:        loc,
					AttrRecommenderType: typ,
				}
				for k, v := range b.Attrs {
					attrs[k] = v
				}
				if attrs[AttrProjectID] == "" {
					attrs[AttrProjectID] = b.ID
				}
				out = append(out, Scope{
					ID:    b.ID + "/" + loc + "/" + typ,
					Kind:  ScopeRecommenderLocation,
					Attrs: attrs,
				})
			}
		}
	}
	return out, nil
}

func listProjects(ctx context.Context, lister ProjectLister, parents []string, fallback string, log *zap.Logger) ([]Scope, error) {
	seen := map[string]struct{}{}
	var (
		scopes []Scope
		errs   []error
	)
	for _, parent := range parents {
		count := 0
		for p, err := range lister.Projects(ctx, parent) {
			if err != nil {
				log.Warn("project listing failed, skipping parent", zap.String("parent", parent), zap.Error(err))
				errs = append(errs, err)
				break
			}
			if p.State != "" && !strings.EqualFold(p.State, "ACTIVE") {
				continue
			}
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			scopes = append(scopes, projectScope(p))
			count++
		}
		log.Info("projects discovered", zap.String("parent", parent), zap.Int("projects", count))
	}

	if len(scopes) == 0 && fallback != "" {
		log.Warn("no projects discovered, falling back to configured project", zap.String("project_id", fallback))
		return []Scope{projectScope(Project{ID: fallback})}, nil
	}
	if len(scopes) == 0 && len(errs) > 0 {
		return nil, RemoteError("list projects", 1, errors.Join(errs...))
	}
	return scopes, nil
}

func projectScope(p Project) Scope {
	attrs := map[string]string{AttrProjectID: p.ID}
	if p.Number != "" {
		attrs[AttrProjectNumber] = p.Number
	}
	if p.DisplayName != "" {
		attrs[AttrDisplayName] = p.DisplayName
	}
	return Scope{ID: p.ID, Kind: ScopeProject, Attrs: attrs}
}

func withPrefix(id, prefix string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, prefix) {
		return id
	}
	return prefix + id
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func valueOr(v any, def any) any {
	if v == nil {
		return def
	}
	return v
}

func nopIfNil(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
