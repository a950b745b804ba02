package entity

// Remote table names. Every entity table carries company_id for row-level
// tenant isolation; the mappers own that field so each write path attaches it.
const (
	TableShipments           = "shipments"
	TableDrivers             = "drivers"
	TableProducts            = "products"
	TableRegions             = "regions"
	TableProductPrices       = "product_prices"
	TableDeductionPrices     = "deduction_prices"
	TableNotifications       = "notifications"
	TableInstallments        = "installments"
	TableInstallmentPayments = "installment_payments"
	TableUsers               = "users"
)

// audit is the column set shared by every entity table.
var audit = []Field{
	{Domain: "id", Column: "id"},
	{Domain: "companyId", Column: "company_id"},
	{Domain: "createdBy", Column: "created_by"},
	{Domain: "createdAt", Column: "created_at"},
	{Domain: "updatedAt", Column: "updated_at"},
}

func withAudit(fields ...Field) []Field {
	return append(fields, audit...)
}

// ShipmentMapper owns the shipment row translation, including the pending
// flag that marks offline-created shipments awaiting a server identity.
func ShipmentMapper() *Mapper {
	return NewMapper(TableShipments, withAudit(
		Field{Domain: "orderNo", Column: "order_no"},
		Field{Domain: "driverId", Column: "driver_id"},
		Field{Domain: "productId", Column: "product_id"},
		Field{Domain: "regionId", Column: "region_id"},
		Field{Domain: "quantity", Column: "quantity"},
		Field{Domain: "wage", Column: "wage"},
		Field{Domain: "diesel", Column: "diesel"},
		Field{Domain: "fees", Column: "fees"},
		Field{Domain: "status", Column: "status"},
		Field{Domain: "notes", Column: "notes"},
		Field{Domain: "isPendingSync", Column: "is_pending_sync"},
	))
}

func DriverMapper() *Mapper {
	return NewMapper(TableDrivers, withAudit(
		Field{Domain: "name", Column: "name"},
		Field{Domain: "phone", Column: "phone"},
		Field{Domain: "plateNo", Column: "plate_no"},
	))
}

func ProductMapper() *Mapper {
	return NewMapper(TableProducts, withAudit(
		Field{Domain: "name", Column: "name"},
		Field{Domain: "unit", Column: "unit"},
	))
}

func RegionMapper() *Mapper {
	return NewMapper(TableRegions, withAudit(
		Field{Domain: "name", Column: "name"},
	))
}

func ProductPriceMapper() *Mapper {
	return NewMapper(TableProductPrices, withAudit(
		Field{Domain: "productId", Column: "product_id"},
		Field{Domain: "regionId", Column: "region_id"},
		Field{Domain: "price", Column: "price"},
	))
}

func DeductionPriceMapper() *Mapper {
	return NewMapper(TableDeductionPrices, withAudit(
		Field{Domain: "productId", Column: "product_id"},
		Field{Domain: "price", Column: "price"},
	))
}

func NotificationMapper() *Mapper {
	return NewMapper(TableNotifications, withAudit(
		Field{Domain: "title", Column: "title"},
		Field{Domain: "body", Column: "body"},
		Field{Domain: "userId", Column: "user_id"},
		Field{Domain: "isRead", Column: "is_read"},
	))
}

func InstallmentMapper() *Mapper {
	return NewMapper(TableInstallments, withAudit(
		Field{Domain: "driverId", Column: "driver_id"},
		Field{Domain: "amount", Column: "amount"},
		Field{Domain: "paidAmount", Column: "paid_amount"},
		Field{Domain: "dueDate", Column: "due_date"},
		Field{Domain: "status", Column: "status"},
	))
}

func InstallmentPaymentMapper() *Mapper {
	return NewMapper(TableInstallmentPayments, withAudit(
		Field{Domain: "installmentId", Column: "installment_id"},
		Field{Domain: "amount", Column: "amount"},
		Field{Domain: "paidAt", Column: "paid_at"},
	))
}

func UserMapper() *Mapper {
	return NewMapper(TableUsers, withAudit(
		Field{Domain: "email", Column: "email"},
		Field{Domain: "name", Column: "name"},
		Field{Domain: "role", Column: "role"},
	))
}
