package entity

import "strings"

// Топики шины событий.
const (
	TopicBroadcast      = "broadcast"
	TopicRoleDispatcher = "role:dispatcher"
	TopicRoleSupervisor = "role:supervisor"
	TopicRoleOperator   = "role:operator"

	supervisorTopicPrefix = "supervisor:"
)

// SupervisorTopic персональный топик супервайзера.
func SupervisorTopic(id string) string {
	return supervisorTopicPrefix + id
}

// ValidTopic проверяет, что топик известен шине.
func ValidTopic(topic string) bool {
	switch topic {
	case TopicBroadcast, TopicRoleDispatcher, TopicRoleSupervisor, TopicRoleOperator:
		return true
	}
	return strings.HasPrefix(topic, supervisorTopicPrefix) && len(topic) > len(supervisorTopicPrefix)
}

// Role роль подключенного пользователя дашборда.
type Role string

const (
	RoleOperator   Role = "operator"
	RoleDispatcher Role = "dispatcher"
	RoleSupervisor Role = "supervisor"
)

func (r Role) Valid() bool {
	return r == RoleOperator || r == RoleDispatcher || r == RoleSupervisor
}

// DefaultTopics топики, на которые сессия подписывается при подключении.
func DefaultTopics(role Role, actorID string) []string {
	switch role {
	case RoleDispatcher:
		return []string{TopicBroadcast, TopicRoleDispatcher}
	case RoleSupervisor:
		return []string{TopicRoleSupervisor, SupervisorTopic(actorID)}
	default:
		return []string{TopicBroadcast, TopicRoleOperator}
	}
}

// CanSubscribe персональный топик супервайзера доступен только ему самому и диспетчерам.
func CanSubscribe(role Role, actorID, topic string) bool {
	if !strings.HasPrefix(topic, supervisorTopicPrefix) {
		return ValidTopic(topic)
	}
	return role == RoleDispatcher || topic == SupervisorTopic(actorID)
}
