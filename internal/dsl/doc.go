// Package dsl parses workflow script text into an AST of verb forms.
//
// The grammar is s-expression keyword style:
//
//	(entity.create :name "John Smith" :as @john)
//	(entity.assign-role :entity @john :role DIRECTOR)
//	;; comments run to end of line
//
// Verb names contain dots and are NOT split; argument keys like
// :kyc.risk.rating split into path segments. Values are string, number, and
// boolean literals, bare keywords, lists [a b] or [a, b], maps {:k v},
// attribute references (@attr.identity.first_name or @attr{uuid}), document
// references (@doc{uuid}), and alias references (@name).
//
// Parsing has no side effects; malformed input yields a *ParseError carrying
// the source line and column.
package dsl
