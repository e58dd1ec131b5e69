package security

import (
	"context"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// AdminRoles are the built-in roles that carry enableSharding,
// shardCollection and split on the cluster resource.
var AdminRoles = []string{"root", "clusterAdmin", "clusterManager", "__system"}

// RequiredActions are the privilege actions setup needs on the cluster or on
// the target database.
var RequiredActions = []string{"enableSharding", "shardCollection", "splitChunk"}

// UserRef names an authenticated user.
type UserRef struct {
	User string `bson:"user"`
	DB   string `bson:"db"`
}

// RoleRef names a role granted to the connection.
type RoleRef struct {
	Role string `bson:"role"`
	DB   string `bson:"db"`
}

// Resource is the target of a privilege. An empty DB or Collection matches
// every database or collection.
type Resource struct {
	Cluster     bool   `bson:"cluster"`
	AnyResource bool   `bson:"anyResource"`
	DB          string `bson:"db"`
	Collection  string `bson:"collection"`
}

// Covers reports whether the resource grants on every collection of db, or
// on the cluster as a whole.
func (r Resource) Covers(db string) bool {
	if r.Cluster || r.AnyResource {
		return true
	}
	return (r.DB == db || r.DB == "") && r.Collection == ""
}

// Privilege is a set of actions on one resource.
type Privilege struct {
	Resource Resource `bson:"resource"`
	Actions  []string `bson:"actions"`
}

// ConnectionStatus is what the server knows about the current connection's
// credentials.
type ConnectionStatus struct {
	Users      []UserRef
	Roles      []RoleRef
	Privileges []Privilege
}

// Authenticated reports whether any user is authenticated. A cluster
// running without access control reports none.
func (s *ConnectionStatus) Authenticated() bool {
	return s != nil && len(s.Users) > 0
}

// HasAnyRole reports whether one of the named roles is granted on admin.
func (s *ConnectionStatus) HasAnyRole(names ...string) bool {
	if s == nil {
		return false
	}
	return lo.ContainsBy(s.Roles, func(r RoleRef) bool {
		return r.DB == "admin" && lo.Contains(names, r.Role)
	})
}

// UserNames returns "user@db" for each authenticated user.
func (s *ConnectionStatus) UserNames() []string {
	if s == nil {
		return nil
	}
	return lo.Map(s.Users, func(u UserRef, _ int) string { return u.User + "@" + u.DB })
}

// RoleNames returns "role@db" for each granted role.
func (s *ConnectionStatus) RoleNames() []string {
	if s == nil {
		return nil
	}
	return lo.Map(s.Roles, func(r RoleRef, _ int) string { return r.Role + "@" + r.DB })
}

// MissingActions returns the RequiredActions not granted on the cluster or
// on db by any privilege of the connection.
func (s *ConnectionStatus) MissingActions(db string) []string {
	if s == nil {
		return RequiredActions
	}
	granted := lo.FlatMap(s.Privileges, func(p Privilege, _ int) []string {
		if !p.Resource.Covers(db) {
			return nil
		}
		return p.Actions
	})
	return lo.Without(RequiredActions, granted...)
}

// CheckAdmin returns an error when the connection is authenticated but can
// not shard db: it holds none of AdminRoles and its privileges lack some of
// RequiredActions. Unauthenticated connections pass; the caller decides
// whether to warn about them.
func (s *ConnectionStatus) CheckAdmin(db string) error {
	if !s.Authenticated() {
		return nil
	}
	if s.HasAnyRole(AdminRoles...) {
		return nil
	}
	missing := s.MissingActions(db)
	if len(missing) == 0 {
		return nil
	}
	return errors.Errorf("users %v lack a cluster admin role or the %v privileges on %s (have roles %v)",
		s.UserNames(), missing, db, s.RoleNames())
}

// GetConnectionStatus runs connectionStatus with showPrivileges and returns
// the authenticated users, roles and privileges.
func GetConnectionStatus(ctx context.Context, client *mongo.Client) (*ConnectionStatus, error) {
	var result struct {
		AuthInfo struct {
			Users      []UserRef   `bson:"authenticatedUsers"`
			Roles      []RoleRef   `bson:"authenticatedUserRoles"`
			Privileges []Privilege `bson:"authenticatedUserPrivileges"`
		} `bson:"authInfo"`
	}
	cmd := bson.D{
		{Key: "connectionStatus", Value: 1},
		{Key: "showPrivileges", Value: true},
	}
	if err := client.Database("admin").RunCommand(ctx, cmd).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "connectionStatus")
	}
	return &ConnectionStatus{
		Users:      result.AuthInfo.Users,
		Roles:      result.AuthInfo.Roles,
		Privileges: result.AuthInfo.Privileges,
	}, nil
}
