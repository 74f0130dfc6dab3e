package pgvector

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	"github.com/letmevibethatforyou/recallx"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

func validateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return errors.Wrapf(recallx.ErrInvalidOption, "invalid index name %q", name)
	}
	return nil
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// operatorClass returns the HNSW operator class for a measure.
func operatorClass(m recallx.DistanceMeasure) string {
	switch m {
	case recallx.Cosine:
		return "vector_cosine_ops"
	case recallx.DotProduct:
		return "vector_ip_ops"
	default:
		return "vector_l2_ops"
	}
}

// operator returns the pgvector distance operator that the HNSW index for
// the measure can serve in ORDER BY.
func operator(m recallx.DistanceMeasure) string {
	switch m {
	case recallx.Cosine:
		return "<=>"
	case recallx.DotProduct:
		return "<#>"
	default:
		return "<->"
	}
}

// distanceExpr returns the SELECT expression reporting the distance in the
// recallx convention. <-> is Euclidean, so it is squared; <=> already yields
// 1 - cos and <#> yields the negated inner product.
func distanceExpr(m recallx.DistanceMeasure, arg string) string {
	expr := fmt.Sprintf("embedding %s %s", operator(m), arg)
	if m == recallx.SquaredL2 || m == "" {
		return "power(" + expr + ", 2)"
	}
	return expr
}

func createIndexStatements(spec IndexSpec) []string {
	table := quote(spec.Name)
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			restricts JSONB NOT NULL DEFAULT '[]',
			crowding_tag TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, table, spec.Dimensions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding %s) WITH (m = %d, ef_construction = %d)`,
			quote(spec.Name+"_embedding_idx"), table, operatorClass(spec.Measure), spec.M, spec.EFConstruction),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING gin (restricts jsonb_path_ops)`,
			quote(spec.Name+"_restricts_idx"), table),
	}
}

func dropIndexStatement(name string) string {
	return fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quote(name))
}

func upsertStatement(index string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (id, embedding, restricts, crowding_tag, updated_at)
		VALUES ($1, $2::vector, $3::jsonb, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			restricts = EXCLUDED.restricts,
			crowding_tag = EXCLUDED.crowding_tag,
			updated_at = EXCLUDED.updated_at
	`, quote(index))
}

func deleteStatement(index string) string {
	return fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, quote(index))
}

func countStatement(index string) string {
	return fmt.Sprintf(`SELECT count(*) FROM %s`, quote(index))
}

// formatEmbedding converts a vector to pgvector text format: "[0.1,0.2,0.3]"
func formatEmbedding(embedding []float32) string {
	var sb strings.Builder
	sb.Grow(len(embedding) * 10)
	sb.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

func encodeRestricts(restricts []recallx.Restrict) (string, error) {
	if len(restricts) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(restricts)
	if err != nil {
		return "", errors.Wrap(err, "marshal restricts")
	}
	return string(data), nil
}

// searchQuery is a parameterized nearest-neighbor statement.
type searchQuery struct {
	sql  string
	args []any
}

// buildSearchQuery renders the statement for one query vector. $1 is the
// embedding and $2 the limit; restrict tokens follow.
//
// Each restrict becomes predicates over the JSONB restricts column, which
// holds the item's recallx.Restrict list:
//   - allow tokens: some entry in the namespace allows one of them, and no
//     entry in the namespace denies one of them;
//   - deny tokens: no entry in the namespace allows one of them.
func buildSearchQuery(index string, measure recallx.DistanceMeasure, embedding []float32, k int, restricts []recallx.Restrict) searchQuery {
	args := []any{formatEmbedding(embedding), k}
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	var where []string
	for _, r := range restricts {
		if len(r.Allow) > 0 {
			ns, tokens := next(r.Namespace), next(r.Allow)
			where = append(where,
				namespaceHas(ns, "allow", tokens),
				"NOT "+namespaceHas(ns, "deny", tokens),
			)
		}
		if len(r.Deny) > 0 {
			ns, tokens := next(r.Namespace), next(r.Deny)
			where = append(where, "NOT "+namespaceHas(ns, "allow", tokens))
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT id, %s AS distance FROM %s", distanceExpr(measure, "$1::vector"), quote(index))
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	fmt.Fprintf(&sb, " ORDER BY embedding %s $1::vector LIMIT $2", operator(measure))

	return searchQuery{sql: sb.String(), args: args}
}

func namespaceHas(ns, field, tokens string) string {
	return fmt.Sprintf(
		"EXISTS (SELECT 1 FROM jsonb_array_elements(restricts) AS r WHERE r->>'namespace' = %s AND COALESCE(r->'%s', '[]'::jsonb) ?| %s::text[])",
		ns, field, tokens,
	)
}
