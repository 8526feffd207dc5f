package auth

import (
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/util"
	sqlxadapter "github.com/memwey/casbin-sqlx-adapter"
)

// NewEnforcer creates the Casbin enforcer that gates every route. The role
// hierarchy is anonymous < editor < moderator: editors hold locks, save
// drafts, and commit; moderators additionally break other users' locks and
// resolve conflicted pages (what the engine calls a privileged actor).
//
// Parameters:
//   - driverName: The name of the database driver (e.g., "mysql").
//   - dsn: The Data Source Name for the database connection.
//   - modelPath: The file path to the Casbin model configuration (`.conf`).
//
// Returns a fully configured Casbin enforcer or an error if setup fails.
func NewEnforcer(driverName, dsn, modelPath string) (*casbin.Enforcer, error) {
	// Policies live next to the pages in the relational database, so every
	// worker enforces the same rules.
	opts := &sqlxadapter.AdapterOptions{
		DriverName:     driverName,
		DataSourceName: dsn,
		TableName:      "casbin_rule",
	}
	adapter := sqlxadapter.NewAdapterFromOptions(opts)

	enforcer, err := casbin.NewEnforcer(modelPath, adapter)
	if err != nil {
		return nil, err
	}

	// keyMatch2 gives the policy paths their ":id" and "*" segments; the
	// coordination API is routed almost entirely under /pages/:id.
	enforcer.AddFunction("keyMatch2", util.KeyMatch2Func)

	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}

	return enforcer, nil
}
