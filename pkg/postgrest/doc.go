// Package postgrest is a client for PostgREST-compatible REST APIs.
//
// A Client holds the base URL, default headers and an optional schema. Requests
// are declared with a fluent Builder and sent with Execute, which returns the
// raw response. Non-2xx responses are not errors: PostgREST reports invalid
// schemas, missing functions and constraint violations as JSON bodies, and
// callers inspect them through Response.APIError. Only failures that prevent
// a response (unparsable URL, refused connection, timeout, unencodable body)
// are returned as *TransportError.
//
// Builder methods map to the PostgREST query syntax:
//
//	Method                  | Request
//	------------------------|------------------------------------------------
//	From("users")           | /users
//	RPC("get_status", args) | POST /rpc/get_status with args as JSON body
//	Select("id,name")       | ?select=id,name
//	Eq("col", "val")        | ?col=eq.val (also Neq Gt Gte Lt Lte Like Ilike Is)
//	In("col", vals)         | ?col=in.(a,b,c)
//	Not("col", "eq", "v")   | ?col=not.eq.v
//	Or("a.eq.x,b.lt.y")     | ?or=(a.eq.x,b.lt.y)
//	Order("col", opts)      | ?order=col.desc.nullsfirst
//	Limit(n) / Offset(n)    | ?limit=n / ?offset=n
//	Single()                | Accept: application/vnd.pgrst.object+json
//	Count(CountExact)       | Prefer: count=exact
//	Insert / Upsert         | POST with Prefer: return=representation
//	Update(body)            | PATCH with Prefer: return=representation
//	Delete()                | DELETE with Prefer: return=representation
//
// Query parameters keep the order in which they were added, so the request
// is a pure function of the chained calls:
//
//	client.From("users").Select("username").Eq("username", "leroyjenkins")
//	// GET /users?select=username&username=eq.leroyjenkins
//
// Schemas are selected with headers, never through the path. GET and HEAD
// send Accept-Profile; POST, PATCH, PUT and DELETE send Content-Profile.
// The client never validates a schema name; the server answers an unknown
// schema with {"message": "Invalid schema: <name>"}.
//
// Example usage:
//
//	client, err := postgrest.New("http://localhost:3000", postgrest.WithHeader("apikey", key))
//	if err != nil {
//		log.Fatal(err)
//	}
//	resp, err := client.Schema("personal").
//		From("users").
//		Update(map[string]any{"status": "OFFLINE"}).
//		Eq("username", "supabot").
//		Execute(ctx)
package postgrest
