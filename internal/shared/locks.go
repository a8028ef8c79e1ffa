package shared

import "fmt"

// ReceiveLockKey builds the redis key guarding one order's receive session.
func ReceiveLockKey(orderID int64) string {
	return fmt.Sprintf("receiving:order:%d:lock", orderID)
}
