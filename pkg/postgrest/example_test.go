package postgrest_test

import (
	"context"
	"fmt"
	"strings"

	"github.com/edgeflare/pgrest/pkg/postgrest"
	"github.com/edgeflare/pgrest/pkg/postgrest/resttest"
)

func ExampleClient_Schema() {
	srv := resttest.NewFixture().Start()
	defer srv.Close()

	client, err := postgrest.New(srv.URL)
	if err != nil {
		panic(err)
	}
	ctx := context.Background()

	for _, c := range []*postgrest.Client{client, client.Schema("personal")} {
		resp, err := c.From("users").Select("username").Eq("username", "leroyjenkins").Execute(ctx)
		if err != nil {
			panic(err)
		}
		fmt.Println(strings.TrimSpace(resp.Text()))
	}

	resp, err := client.Schema("private").From("channels").Select("*").Execute(ctx)
	if err != nil {
		panic(err)
	}
	if apiErr, ok := resp.APIError(); ok {
		fmt.Println(apiErr.Message)
	}

	// Output:
	// []
	// [{"username":"leroyjenkins"}]
	// Invalid schema: private
}

func ExampleClient_RPC() {
	srv := resttest.NewFixture().Start()
	defer srv.Close()

	client, _ := postgrest.New(srv.URL)
	resp, err := client.Schema("personal").RPC("get_status", map[string]string{"name_param": "leroyjenkins"}).Execute(context.Background())
	if err != nil {
		panic(err)
	}
	fmt.Println(resp.StatusCode, strings.TrimSpace(resp.Text()))

	// Output:
	// 200 "ONLINE"
}
