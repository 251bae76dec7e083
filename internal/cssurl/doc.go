// Package cssurl finds and replaces url() and @import references inside
// CSS text. It exists so link extraction and rewriting operate on the
// same tokenization; a reference that extraction found but rewriting
// missed would leave a broken mirror.
package cssurl
