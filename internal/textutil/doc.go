// Package textutil provides text helpers for turning operator-supplied
// category names into filesystem-safe tokens and readable labels.
//
// Category tokens feed artifact filenames ({category}_{unixMillis}.{ext}), so
// accents are folded and unsafe characters collapse to underscores.
package textutil
