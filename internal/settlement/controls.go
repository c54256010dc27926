package settlement

import (
	"errors"
	"fmt"

	"tradepro/internal/models"

	"gorm.io/gorm"
)

// Controls reads and writes the per-user settlement override. Only admin
// callers may mutate it; that authorization lives at the API boundary.
type Controls struct {
	db *gorm.DB
}

// NewControls creates the trade control accessor.
func NewControls(db *gorm.DB) *Controls {
	return &Controls{db: db}
}

// Get returns the user's control mode. Users without a setting are normal.
func (c *Controls) Get(userID uint) (string, error) {
	var setting models.TradeControlSetting
	err := c.db.Where("user_id = ?", userID).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ControlNormal, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load trade control for user %d: %w", userID, err)
	}
	return setting.Mode, nil
}

// Set stores the user's control mode, creating the setting row on first use.
func (c *Controls) Set(userID uint, mode string) error {
	switch mode {
	case models.ControlNormal, models.ControlAlwaysLose, models.ControlAlwaysProfit:
	default:
		return fmt.Errorf("%w: unknown control mode %q", ErrInvalidParameters, mode)
	}

	setting := models.TradeControlSetting{UserID: userID, Mode: mode}
	err := c.db.Where(models.TradeControlSetting{UserID: userID}).
		Assign(models.TradeControlSetting{Mode: mode}).
		FirstOrCreate(&setting).Error
	if err != nil {
		return fmt.Errorf("failed to set trade control for user %d: %w", userID, err)
	}
	return nil
}
