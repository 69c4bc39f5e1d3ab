package audit

import (
	"sync"

	"gorm.io/gorm"
)

var (
	globalAuditor *Auditor
	registryMu    sync.RWMutex
)

// InitGlobal creates the global Auditor. Call it once after the database is
// initialized.
func InitGlobal(db *gorm.DB, retentionDays int) {
	registryMu.Lock()
	defer registryMu.Unlock()
	globalAuditor = NewAuditor(db, retentionDays)
}

func GetAuditor() *Auditor {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return globalAuditor
}

// Record logs e through the global Auditor. It is a no-op when none is set.
func Record(e Entry) {
	if a := GetAuditor(); a != nil {
		a.Log(e)
	}
}

// SetGlobalForTest sets the global Auditor for tests.
func SetGlobalForTest(a *Auditor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	globalAuditor = a
}

// ResetGlobalForTest clears the global Auditor.
func ResetGlobalForTest() {
	registryMu.Lock()
	defer registryMu.Unlock()
	globalAuditor = nil
}
