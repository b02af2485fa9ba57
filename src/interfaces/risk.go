package interfaces

import "trading-gateway/src/models"

// -----------------------------------------------------------------------------
// IRiskValidator is a pure check over account state and a candidate order.
// -----------------------------------------------------------------------------

type IRiskValidator interface {

	// Validate returns (true, "") when the order passes every risk check,
	// or (false, reason) on the first violated rule.
	Validate(account models.MAccount, positions []models.MPosition, order models.MOrder) (bool, string)
}
