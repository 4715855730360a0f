package migrate

import (
	"strings"
	"testing"
)

func TestSplitStatementsPreservesDollarQuotedBodies(t *testing.T) {
	input := `
create table stores (id text primary key);
create function get_user_effective_role(uid text, sid text)
returns table(role text) as $$
begin
  return query select 'owner'; return;
end;
$$ language plpgsql;
insert into stores values ('s1');
`
	stmts := splitStatements(input)
	if len(stmts) != 3 {
		t.Fatalf("want 3 statements, got %d: %q", len(stmts), stmts)
	}
	if !strings.Contains(stmts[1], "return query select 'owner'; return;") {
		t.Fatalf("function body was split: %q", stmts[1])
	}
}

func TestSplitStatementsIgnoresSemicolonsInStrings(t *testing.T) {
	stmts := splitStatements(`insert into t values ('a;b'); select 1;`)
	if len(stmts) != 2 {
		t.Fatalf("want 2 statements, got %d: %q", len(stmts), stmts)
	}
}
