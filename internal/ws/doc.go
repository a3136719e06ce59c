// Package ws реализует websocket шлюз доставки прогресса.
//
// Протокол: клиент после рукопожатия шлёт {"type":"join","task_id":...},
// получает подтверждение joined, полную историю событий task'а и дальше
// живой поток. leave отписывает от комнаты. Подключиться к чужому
// task'у нельзя.
//
// Соединение держит два цикла: readPump принимает команды клиента,
// writePump — единственный писатель в сокет (очередь send плюс ping).
// Медленный клиент теряет события после переполнения очереди, полная
// история остаётся доступной через повторный join или REST replay.
package ws
