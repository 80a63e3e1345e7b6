package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"
)

// LDAP_MATCHING_RULE_IN_CHAIN, resolves nested group membership server side.
const matchingRuleInChain = "1.2.840.113556.1.4.1941"

var userAttributes = []string{"objectClass", "userAccountControl", "sAMAccountName", "name", "mail"}

type ldapConn interface {
	Bind(username, password string) error
	NTLMBind(domain, username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

type DirectorySource struct {
	cfg  DirectoryConfig
	log  *zap.Logger
	dial func(ctx context.Context) (ldapConn, error)
}

func NewDirectorySource(log *zap.Logger, cfg DirectoryConfig) *DirectorySource {
	s := &DirectorySource{
		cfg: cfg,
		log: log.Named("directory"),
	}

	s.dial = s.dialURL

	return s
}

func (s *DirectorySource) URL() string {
	if strings.Contains(s.cfg.Server, "://") {
		return s.cfg.Server
	}

	if s.cfg.UseTLS {
		return "ldaps://" + s.cfg.Server
	}

	return "ldap://" + s.cfg.Server
}

func (s *DirectorySource) dialURL(context.Context) (ldapConn, error) {
	conn, err := ldap.DialURL(s.URL())
	if err != nil {
		return nil, err
	}

	return conn, nil
}

// GroupUsers returns every account that is a direct or nested member of group.
// Connection, bind and search failures return a *DirectorySourceError and no
// users. Entries that cannot be converted are dropped and reported through an
// *UnexpectedError returned alongside the users that could be read.
func (s *DirectorySource) GroupUsers(ctx context.Context, group string, targetGroupID int64) ([]DirectoryUser, error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, s.sourceError(group, fmt.Errorf("dial: %w", err))
	}

	defer func() { _ = conn.Close() }()

	if err := s.bind(conn); err != nil {
		return nil, s.sourceError(group, fmt.Errorf("bind: %w", err))
	}

	entries, err := s.searchPaged(ctx, conn, s.membershipFilter(group))
	if err != nil {
		return nil, s.sourceError(group, err)
	}

	users := make([]DirectoryUser, 0, len(entries))

	var entryErrs []error

	for _, entry := range entries {
		user, err := entryToUser(entry, targetGroupID)
		if err != nil {
			s.log.Warn("user info was not captured from directory", zap.String("dn", entry.DN), zap.Error(err))
			entryErrs = append(entryErrs, err)
			continue
		}

		users = append(users, user)
	}

	s.log.Info("collected directory users", zap.String("group", group), zap.Int("count", len(users)))

	if len(entryErrs) > 0 {
		return users, &UnexpectedError{Op: "read directory entries of " + group, Err: errors.Join(entryErrs...)}
	}

	return users, nil
}

func (s *DirectorySource) bind(conn ldapConn) error {
	if s.cfg.BindMode == BindModeSimple {
		return conn.Bind(s.cfg.Username, s.cfg.Password)
	}

	return conn.NTLMBind(s.cfg.Domain, s.cfg.Username, s.cfg.Password)
}

func (s *DirectorySource) membershipFilter(group string) string {
	return fmt.Sprintf("(&(objectClass=user)(memberOf:%s:=%s)%s)", matchingRuleInChain, ldap.EscapeFilter(group), s.cfg.UserFilter)
}

// searchPaged follows the paging cookie until the server returns an empty one.
func (s *DirectorySource) searchPaged(ctx context.Context, conn ldapConn, filter string) ([]*ldap.Entry, error) {
	paging := ldap.NewControlPaging(s.cfg.PageSize)
	req := ldap.NewSearchRequest(
		s.cfg.SearchBase(),
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,
		0,
		false,
		filter,
		userAttributes,
		[]ldap.Control{paging},
	)

	var entries []*ldap.Entry

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := conn.Search(req)
		if err != nil {
			return nil, fmt.Errorf("search: %w", err)
		}

		entries = append(entries, res.Entries...)
		s.log.Debug("completed page of directory users", zap.Int("total", len(entries)))

		next, ok := ldap.FindControl(res.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging)
		if !ok || len(next.Cookie) == 0 {
			return entries, nil
		}

		paging.SetCookie(next.Cookie)
	}
}

func (s *DirectorySource) sourceError(group string, err error) error {
	return &DirectorySourceError{Server: s.cfg.Server, Group: group, Err: err}
}

func entryToUser(entry *ldap.Entry, targetGroupID int64) (DirectoryUser, error) {
	account := entry.GetAttributeValue("sAMAccountName")
	if account == "" {
		return DirectoryUser{}, fmt.Errorf("entry %q has no sAMAccountName", entry.DN)
	}

	user := DirectoryUser{
		AccountName:        account,
		DisplayName:        entry.GetAttributeValue("name"),
		UserAccountControl: entry.GetAttributeValue("userAccountControl"),
		TargetGroupID:      targetGroupID,
	}

	if mail := entry.GetAttributeValues("mail"); len(mail) > 0 && mail[0] != "" {
		user.Mail = &mail[0]
	}

	return user, nil
}
