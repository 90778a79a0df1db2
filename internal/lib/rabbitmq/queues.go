package rabbitmq

// Ключи маршрутизации уведомлений.
const (
	RoutingAuth         = "auth"
	RoutingPayment      = "payment"
	RoutingSubscription = "subscription"
)

// QueueConfig пара очередь + ключ маршрутизации.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// GetNotificationQueues очереди, которые читает sender.
func GetNotificationQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "notifications.auth", RoutingKey: RoutingAuth},
		{QueueName: "notifications.payment", RoutingKey: RoutingPayment},
		{QueueName: "notifications.subscription", RoutingKey: RoutingSubscription},
	}
}
