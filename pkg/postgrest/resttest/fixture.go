package resttest

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Schema names used by the fixture. FixtureUnexposedSchema exists in the
// database the fixture models but is not exposed over the API.
const (
	FixtureDefaultSchema   = "public"
	FixturePersonalSchema  = "personal"
	FixtureUnexposedSchema = "private"
)

type getStatusArgs struct {
	NameParam string `mapstructure:"name_param"`
}

// NewFixture returns a server seeded with the multi-schema data set used by
// the client tests:
//
//	public.users       supabot, kiwicopple, awailas, dragarcia
//	public.channels    public, random
//	personal.users     supabot, leroyjenkins
//	personal.get_status(name_param) returns the user's status
func NewFixture(opts ...Option) *Server {
	s := NewServer([]string{FixtureDefaultSchema, FixturePersonalSchema}, opts...)

	userColumns := []string{"username", "data", "age_range", "status", "catchphrase"}
	must(s.AddTable(FixtureDefaultSchema, Table{
		Name:       "users",
		Columns:    userColumns,
		PrimaryKey: []string{"username"},
		Rows: []Row{
			{"username": "supabot", "age_range": "[1,2)", "status": "ONLINE", "catchphrase": "'cat' 'fat'"},
			{"username": "kiwicopple", "age_range": "[25,35)", "status": "OFFLINE", "catchphrase": "'bat' 'cat'"},
			{"username": "awailas", "age_range": "[25,35)", "status": "ONLINE", "catchphrase": "'bat' 'rat'"},
			{"username": "dragarcia", "age_range": "[20,30)", "status": "ONLINE", "catchphrase": "'fat' 'rat'"},
		},
	}))
	must(s.AddTable(FixtureDefaultSchema, Table{
		Name:       "channels",
		Columns:    []string{"id", "data", "slug"},
		PrimaryKey: []string{"id"},
		Rows: []Row{
			{"id": float64(1), "slug": "public"},
			{"id": float64(2), "slug": "random"},
		},
	}))
	must(s.AddTable(FixturePersonalSchema, Table{
		Name:       "users",
		Columns:    userColumns,
		PrimaryKey: []string{"username"},
		Rows: []Row{
			{"username": "supabot", "age_range": "[1,2)", "status": "ONLINE", "catchphrase": "'cat' 'fat'"},
			{"username": "leroyjenkins", "age_range": "[20,30)", "status": "ONLINE", "catchphrase": "'fat' 'rat'"},
		},
	}))

	must(s.AddFunction(FixturePersonalSchema, "get_status", []string{"name_param"}, func(args map[string]any) (any, error) {
		var in getStatusArgs
		if err := mapstructure.Decode(args, &in); err != nil {
			return nil, fmt.Errorf("invalid input for get_status: %w", err)
		}
		// the server lock is held; Rows would deadlock
		for _, row := range s.schemas[FixturePersonalSchema].tables["users"].rows {
			if row["username"] == in.NameParam {
				return row["status"], nil
			}
		}
		return nil, nil
	}))

	return s
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
