package mapping

import "fmt"

const templateDoc = `# CSV mapping for institution %q.
# Keys are CSV headers; they are matched after normalization
# (lower-case, punctuation and spaces collapsed to "_").
institution: %s
fields:
  transaction_date:
    target: occurred_at
    type: timestamp
    format: MM/dd/yyyy
  post_date:
    target: posted_at
    type: timestamp
  description:
    target: merchant
  category:
    target: category
  debit:
    target: amount_cents
    type: currency
  credit:
    target: amount_cents
    type: currency
  memo:
    target: memo
`

// Template returns a starter mapping document for a new institution.
func Template(institution string) []byte {
	return []byte(fmt.Sprintf(templateDoc, institution, institution))
}
