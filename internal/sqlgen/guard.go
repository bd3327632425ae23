package sqlgen

import (
	"fmt"
	"strings"
)

// RejectionError explains why a generated statement may not run.
type RejectionError struct {
	SQL    string
	Reason string
}

func (e *RejectionError) Error() string { return "query rejected: " + e.Reason }

var forbiddenKeywords = toSet(
	"INSERT", "UPDATE", "DELETE", "MERGE", "UPSERT", "CREATE", "ALTER", "DROP",
	"TRUNCATE", "GRANT", "REVOKE", "ATTACH", "DETACH", "PRAGMA", "VACUUM", "REINDEX",
	"ANALYZE", "COPY", "CALL", "EXEC", "EXECUTE", "DO", "LOCK", "SET", "RESET",
	"LOAD", "INTO", "BEGIN", "COMMIT", "ROLLBACK", "SAVEPOINT", "RELEASE", "NOTIFY",
	"LISTEN", "PREPARE", "DEALLOCATE", "DECLARE", "TABLE",
)

// forbiddenFunctions reach outside the database, stall it, or run SQL text
// that the guard never sees.
var forbiddenFunctions = toSet(
	"LOAD_EXTENSION", "READFILE", "WRITEFILE", "EDIT", "FTS3_TOKENIZER",
	"PG_SLEEP", "PG_SLEEP_FOR", "PG_SLEEP_UNTIL", "PG_READ_FILE", "PG_READ_BINARY_FILE",
	"PG_LS_DIR", "PG_STAT_FILE", "LO_IMPORT", "LO_EXPORT", "LO_GET",
	"DBLINK", "DBLINK_EXEC", "SET_CONFIG", "CURRENT_SETTING",
	"PG_TERMINATE_BACKEND", "PG_CANCEL_BACKEND",
	"QUERY_TO_XML", "QUERY_TO_XMLSCHEMA", "QUERY_TO_XML_AND_XMLSCHEMA",
	"TABLE_TO_XML", "TABLE_TO_XMLSCHEMA", "TABLE_TO_XML_AND_XMLSCHEMA",
	"CURSOR_TO_XML", "CURSOR_TO_XMLSCHEMA",
	"SCHEMA_TO_XML", "SCHEMA_TO_XMLSCHEMA", "SCHEMA_TO_XML_AND_XMLSCHEMA",
	"DATABASE_TO_XML", "DATABASE_TO_XMLSCHEMA", "DATABASE_TO_XML_AND_XMLSCHEMA",
	"TS_STAT", "XPATH_TABLE",
)

// fromFunctions use FROM inside their argument list, e.g. EXTRACT(YEAR FROM d).
var fromFunctions = toSet("EXTRACT", "SUBSTRING", "TRIM", "OVERLAY", "POSITION")

// fromListEnd ends the FROM clause of the current query level.
var fromListEnd = toSet(
	"WHERE", "GROUP", "ORDER", "HAVING", "LIMIT", "OFFSET", "UNION", "INTERSECT",
	"EXCEPT", "WINDOW", "FETCH", "FOR", "RETURNING", "SELECT", "QUALIFY",
)

// itemModifiers may precede a FROM item.
var itemModifiers = toSet("LATERAL", "ONLY")

// Guard statically checks generated SQL before it is allowed to run.
type Guard struct {
	allowed    map[string]bool
	restricted map[string]bool
}

// NewGuard creates a Guard over lower-cased table names.
func NewGuard(allowed, restricted map[string]bool) *Guard {
	return &Guard{allowed: allowed, restricted: restricted}
}

// Check returns a *RejectionError unless sql is a single SELECT (or WITH …
// SELECT) statement that reads only allowed tables.
func (g *Guard) Check(sql string) error {
	reject := func(format string, args ...any) error {
		return &RejectionError{SQL: sql, Reason: fmt.Sprintf(format, args...)}
	}

	toks, err := tokenize(sql)
	if err != nil {
		return reject("%v", err)
	}
	for i, t := range toks {
		if t.punct(";") {
			if i != len(toks)-1 {
				return reject("multiple statements are not allowed")
			}
			toks = toks[:i]
			break
		}
	}
	if len(toks) == 0 {
		return reject("empty statement")
	}
	if !toks[0].is("SELECT") && !toks[0].is("WITH") {
		return reject("only SELECT statements are allowed, got %s", toks[0].raw)
	}

	for i, t := range toks {
		if t.kind != tokWord && t.kind != tokQuoted {
			continue
		}
		callsFunc := i+1 < len(toks) && toks[i+1].punct("(")
		if forbiddenFunctions[strings.ToUpper(t.text)] && callsFunc {
			return reject("function %s is not allowed", t.raw)
		}
		if t.kind != tokWord {
			continue
		}
		// REPLACE is both a statement and a string function.
		if t.text == "REPLACE" && !callsFunc {
			return reject("keyword REPLACE is not allowed")
		}
		if forbiddenKeywords[t.text] {
			return reject("keyword %s is not allowed", t.text)
		}
	}

	ctes, err := cteNames(toks)
	if err != nil {
		return reject("%v", err)
	}

	refs, err := tableRefs(toks)
	if err != nil {
		return reject("%v", err)
	}
	if len(refs) == 0 {
		return reject("query reads no table")
	}
	for _, ref := range refs {
		name := strings.ToLower(ref.name)
		switch {
		case ctes.visible(name, ref.pos):
		case g.restricted[name]:
			return reject("table %s is restricted", ref.name)
		case !g.allowed[name]:
			return reject("table %s is not in the schema", ref.name)
		}
	}
	return nil
}

// cte is one name defined by the leading WITH clause, with the token
// positions of its name and of the end of its body.
type cte struct {
	namePos, bodyEnd int
}

type cteScope struct {
	recursive bool
	defs      map[string]cte
}

// visible reports whether a reference at token pos resolves to the CTE
// rather than to a table of the same name. Without RECURSIVE a CTE is only
// in scope after its own body.
func (s cteScope) visible(name string, pos int) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.recursive {
		return pos > d.namePos
	}
	return pos >= d.bodyEnd
}

// cteNames collects the names defined by a leading WITH clause.
func cteNames(toks []token) (cteScope, error) {
	scope := cteScope{defs: map[string]cte{}}
	if !toks[0].is("WITH") {
		return scope, nil
	}
	i := 1
	if i < len(toks) && toks[i].is("RECURSIVE") {
		scope.recursive = true
		i++
	}
	for {
		if i >= len(toks) || (toks[i].kind != tokWord && toks[i].kind != tokQuoted) {
			return scope, fmt.Errorf("malformed WITH clause")
		}
		name, namePos := strings.ToLower(toks[i].text), i
		if _, dup := scope.defs[name]; dup {
			return scope, fmt.Errorf("WITH name %s defined twice", toks[i].raw)
		}
		i++
		if i < len(toks) && toks[i].punct("(") {
			if i = skipParens(toks, i); i < 0 {
				return scope, fmt.Errorf("unbalanced parentheses")
			}
		}
		if i >= len(toks) || !toks[i].is("AS") {
			return scope, fmt.Errorf("malformed WITH clause")
		}
		i++
		if i < len(toks) && (toks[i].is("MATERIALIZED") || toks[i].is("NOT")) {
			for i < len(toks) && !toks[i].punct("(") {
				i++
			}
		}
		if i >= len(toks) || !toks[i].punct("(") {
			return scope, fmt.Errorf("malformed WITH clause")
		}
		if i = skipParens(toks, i); i < 0 {
			return scope, fmt.Errorf("unbalanced parentheses")
		}
		scope.defs[name] = cte{namePos: namePos, bodyEnd: i}
		if i < len(toks) && toks[i].punct(",") {
			i++
			continue
		}
		return scope, nil
	}
}

// skipParens returns the index after the parenthesis group opening at i, or
// -1 if it never closes.
func skipParens(toks []token, i int) int {
	depth := 0
	for ; i < len(toks); i++ {
		switch {
		case toks[i].punct("("):
			depth++
		case toks[i].punct(")"):
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

type tableRef struct {
	name string
	pos  int
}

// fromFrame is the scan state of one parenthesis level.
type fromFrame struct {
	inFrom   bool // inside a FROM clause, where commas separate items
	expect   bool // the next token starts a FROM item
	funcArgs bool // argument list of a function that uses FROM
}

// tableRefs returns every table named as a FROM item at any nesting depth:
// after FROM, JOIN or a FROM-list comma, and inside parenthesized joins
// such as FROM (a JOIN b ON ...). Subqueries are scanned as their own level.
func tableRefs(toks []token) ([]tableRef, error) {
	var refs []tableRef
	stack := []*fromFrame{{}}

	for i := 0; i < len(toks); i++ {
		t := toks[i]
		f := stack[len(stack)-1]

		if f.expect {
			switch {
			case t.punct("("):
				f.expect = false
				next := &fromFrame{}
				if i+1 < len(toks) && !startsQuery(toks[i+1]) {
					next.inFrom, next.expect = true, true
				}
				stack = append(stack, next)
				continue
			case t.kind == tokWord && itemModifiers[t.text]:
				continue
			}
			name, end, err := qualifiedName(toks, i)
			if err != nil {
				return nil, err
			}
			if end < len(toks) && toks[end].punct("(") {
				return nil, fmt.Errorf("table function %s is not allowed", name)
			}
			refs = append(refs, tableRef{name: name, pos: i})
			f.expect = false
			i = end - 1
			continue
		}

		switch {
		case t.punct("("):
			stack = append(stack, &fromFrame{
				funcArgs: i > 0 && toks[i-1].kind == tokWord && fromFunctions[toks[i-1].text],
			})
		case t.punct(")"):
			if len(stack) == 1 {
				return nil, fmt.Errorf("unbalanced parentheses")
			}
			stack = stack[:len(stack)-1]
		case t.punct(","):
			if f.inFrom {
				f.expect = true
			}
		case t.is("FROM"):
			if f.funcArgs || distinctFrom(toks, i) {
				continue
			}
			f.inFrom, f.expect = true, true
		case t.is("JOIN"):
			f.inFrom, f.expect = true, true
		case t.kind == tokWord && fromListEnd[t.text]:
			f.inFrom = false
		}
	}
	if len(stack) != 1 {
		return nil, fmt.Errorf("unbalanced parentheses")
	}
	if stack[0].expect {
		return nil, fmt.Errorf("FROM or JOIN without a table")
	}
	return refs, nil
}

// startsQuery reports whether t opens a subquery rather than a join group.
func startsQuery(t token) bool {
	return t.is("SELECT") || t.is("WITH") || t.is("VALUES")
}

// distinctFrom reports whether the FROM at i belongs to IS [NOT] DISTINCT FROM.
func distinctFrom(toks []token, i int) bool {
	return i >= 2 && toks[i-1].is("DISTINCT") && (toks[i-2].is("IS") || toks[i-2].is("NOT"))
}

// qualifiedName reads name or schema.name. Only the default schemas may be
// named explicitly.
func qualifiedName(toks []token, i int) (string, int, error) {
	if toks[i].kind != tokWord && toks[i].kind != tokQuoted {
		return "", 0, fmt.Errorf("unexpected %q after FROM", toks[i].raw)
	}
	name := toks[i].text
	if toks[i].kind == tokWord {
		name = toks[i].raw
	}
	i++
	if i+1 < len(toks) && toks[i].punct(".") {
		schema := strings.ToLower(name)
		if schema != "main" && schema != "public" {
			return "", 0, fmt.Errorf("schema %s is not allowed", name)
		}
		if toks[i+1].kind != tokWord && toks[i+1].kind != tokQuoted {
			return "", 0, fmt.Errorf("unexpected %q after FROM", toks[i+1].raw)
		}
		name = toks[i+1].text
		if toks[i+1].kind == tokWord {
			name = toks[i+1].raw
		}
		i += 2
	}
	return name, i, nil
}

func toSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
