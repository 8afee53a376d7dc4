package migrate

import (
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
	"github.com/pkg/errors"
)

// sqlLexer only knows enough SQL to find the semicolons that end statements.
var sqlLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `--[^\r\n]*`},
	{Name: "MultilineComment", Pattern: `/\*[^*]*\*+([^/*][^*]*\*+)*/`},
	{Name: "String", Pattern: `'([^']|'')*'`},
	{Name: "QuotedIdent", Pattern: `"([^"]|"")*"`},
	{Name: "DollarBody", Pattern: `\$\$(?s:.*?)\$\$`},
	{Name: "Semicolon", Pattern: `;`},
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: "Word", Pattern: `[^\s;'"$/-]+`},
	{Name: "Char", Pattern: `.`},
})

var (
	symbols          = sqlLexer.Symbols()
	commentType      = symbols["Comment"]
	multiCommentType = symbols["MultilineComment"]
	semicolonType    = symbols["Semicolon"]
	charType         = symbols["Char"]
)

// Split breaks a SQL script into statements on top-level semicolons.
//
// Semicolons inside comments, quoted strings, quoted identifiers and $$ function bodies do not
// end a statement. Comments are dropped and empty statements are skipped.
//
// Example:
//
//	stmts, err := migrate.Split(`
//		-- users; the first table
//		CREATE TABLE users (id INT, name TEXT DEFAULT 'a;b');
//		INSERT INTO users VALUES (1, 'x');
//	`)
//	// stmts[0] = "CREATE TABLE users (id INT, name TEXT DEFAULT 'a;b')"
//	// stmts[1] = "INSERT INTO users VALUES (1, 'x')"
func Split(script string) ([]string, error) {
	lex, err := sqlLexer.LexString("", script)
	if err != nil {
		return nil, errors.Wrap(err, "failed to tokenize sql")
	}

	tokens, err := lexer.ConsumeAll(lex)
	if err != nil {
		return nil, errors.Wrap(err, "failed to tokenize sql")
	}

	var (
		stmts []string
		sb    strings.Builder
	)

	flush := func() {
		if stmt := strings.TrimSpace(sb.String()); stmt != "" {
			stmts = append(stmts, stmt)
		}
		sb.Reset()
	}

	for _, tok := range tokens {
		if tok.EOF() {
			break
		}

		switch tok.Type {
		case commentType:
		case multiCommentType:
			sb.WriteByte(' ')
		case semicolonType:
			flush()
		case charType:
			if tok.Value == "'" || tok.Value == `"` {
				return nil, errors.Errorf("unterminated quoted text at %s", tok.Pos)
			}
			sb.WriteString(tok.Value)
		default:
			sb.WriteString(tok.Value)
		}
	}

	flush()
	return stmts, nil
}
